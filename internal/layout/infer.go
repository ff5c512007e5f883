package layout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSizeUnknown means a token is neither a known primitive nor in the layout table.
	ErrSizeUnknown = errors.New("type size unknown")
	// ErrNotInitialized means the layout was queried before Setup.
	ErrNotInitialized = errors.New("data layout not initialized")
)

// SizeTypes are the integer spellings accepted as a length for dynamic buffers.
var SizeTypes = []string{
	"size_t", "int", "uint32_t", "uint64_t", "__uint32_t",
	"unsigned int", "int64_t", "unsigned long", "__u_int", "__off_t",
}

// StringTypes are the spellings treated as NUL-terminated strings.
var StringTypes = []string{"char*", "unsigned char*", "wchar_t*", "u_char*", "u_char"}

// IsSizeType reports whether token is one of SizeTypes.
func IsSizeType(token string) bool {
	return contains(SizeTypes, token)
}

// IsStringType reports whether token is one of StringTypes.
func IsStringType(token string) bool {
	return contains(StringTypes, token)
}

// IsPointerToken reports whether a raw type spelling is a pointer.
func IsPointerToken(token string) bool {
	return strings.Contains(token, "*")
}

var primitiveBits = map[string]int{
	"float":              32,
	"double":             64,
	"int":                32,
	"unsigned int":       32,
	"long":               64,
	"unsigned long":      64,
	"char":               8,
	"signed char":        8,
	"void":               0,
	"size_t":             64,
	"uint8_t":            8,
	"uint16_t":           16,
	"uint32_t":           32,
	"uint64_t":           64,
	"unsigned char":      8,
	"bool":               8,
	"wchar_t":            32,
	"unsigned short":     16,
	"unsigned long long": 64,
	"long long":          64,
}

// InferTypeSize returns the size in bits of a primitive spelling.
// Pointers are 64 bits and function signatures 0; anything else is ErrSizeUnknown.
func InferTypeSize(token string) (int, error) {
	if IsPointerToken(token) {
		return 64, nil
	}
	if bits, ok := primitiveBits[token]; ok {
		return bits, nil
	}
	if strings.Contains(token, "(") {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrSizeUnknown, token)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
