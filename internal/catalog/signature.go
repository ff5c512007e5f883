package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"driversynth/internal/layout"
)

var (
	funcNameRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	funPtrRe   = regexp.MustCompile(`\(\s*\*\s*([a-zA-Z_][a-zA-Z0-9_]*)?\s*\)`)
)

// words that can only be part of a type, never a parameter name
var typeWords = map[string]bool{
	"const": true, "volatile": true, "unsigned": true, "signed": true,
	"int": true, "long": true, "short": true, "char": true, "void": true,
	"float": true, "double": true, "bool": true, "struct": true, "enum": true,
	"union": true, "size_t": true,
}

// ParseSignature builds an Api from a C prototype such as
// "int curl_easy_setopt(CURL *, int, ...)".
func ParseSignature(proto string) (*Api, error) {
	proto = strings.TrimSuffix(strings.TrimSpace(proto), ";")
	loc := funcNameRe.FindStringSubmatchIndex(proto)
	if loc == nil {
		return nil, fmt.Errorf("no function name in %q", proto)
	}
	name := proto[loc[2]:loc[3]]
	retType := strings.TrimSpace(proto[:loc[2]])
	if retType == "" {
		return nil, fmt.Errorf("no return type in %q", proto)
	}

	open := loc[1] - 1
	closeIdx := matchingParen(proto, open)
	if closeIdx < 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", proto)
	}
	body := strings.TrimSpace(proto[open+1 : closeIdx])

	api := &Api{
		Name:      name,
		IsVararg:  strings.Contains(body, "..."),
		Return:    guessArg("return", retType),
		Namespace: namespaceOf(name),
	}

	for i, raw := range splitParams(body) {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "..." || raw == "void" {
			continue
		}
		typ, pname := splitParamName(raw)
		if pname == "" {
			pname = fmt.Sprintf("arg%d", i)
		}
		api.Args = append(api.Args, guessArg(pname, typ))
	}
	return api, nil
}

func guessArg(name, typ string) Arg {
	flag := FlagVal
	switch {
	case strings.Contains(typ, "(*)"):
		flag = FlagFun
	case strings.ContainsAny(typ, "*["):
		flag = FlagRef
	}
	return Arg{
		Name:  name,
		Flag:  flag,
		Size:  guessSize(typ),
		Type:  typ,
		Const: ConstFlags{strings.Contains(typ, "const")},
	}
}

func guessSize(typ string) int {
	if bits, err := layout.InferTypeSize(typ); err == nil {
		return bits
	}
	switch {
	case strings.Contains(typ, "*"):
		return 64
	case strings.Contains(typ, "long"):
		return 64
	case strings.Contains(typ, "short"):
		return 16
	case strings.Contains(typ, "int"):
		return 32
	case strings.Contains(typ, "char"):
		return 8
	case strings.Contains(typ, "float"):
		return 32
	case strings.Contains(typ, "double"):
		return 64
	}
	return 0
}

func namespaceOf(name string) []string {
	parts := strings.Split(name, "_")
	if len(parts) > 1 {
		return parts[:len(parts)-1]
	}
	return nil
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitParams splits on top-level commas so function-pointer parameters stay whole.
func splitParams(body string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, body[start:i])
				start = i + 1
			}
		}
	}
	if start < len(body) {
		out = append(out, body[start:])
	}
	return out
}

// splitParamName separates a trailing identifier from the type, if there is one.
func splitParamName(raw string) (string, string) {
	if m := funPtrRe.FindStringSubmatch(raw); m != nil {
		return funPtrRe.ReplaceAllString(raw, "(*)"), m[1]
	}
	arr := ""
	if i := strings.Index(raw, "["); i >= 0 {
		arr = "*"
		raw = strings.TrimSpace(raw[:i])
	}
	fields := strings.Fields(strings.ReplaceAll(raw, "*", " * "))
	if len(fields) < 2 {
		return raw + arr, ""
	}
	last := fields[len(fields)-1]
	prev := fields[len(fields)-2]
	if typeWords[last] || last == "*" || prev == "struct" || prev == "enum" || prev == "union" {
		return raw + arr, ""
	}
	typ := strings.TrimSpace(strings.TrimSuffix(raw, last))
	return typ + arr, last
}
