package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"driversynth/internal/logging"
)

// Load reads a catalog file, JSON array or JSON lines.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	apis, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c, err := New(apis)
	if err != nil {
		return nil, err
	}
	logging.Catalog("Loaded %d signatures from %s", c.Len(), path)
	return c, nil
}

// Decode parses signatures and flattens hidden return pointers.
func Decode(r io.Reader) ([]*Api, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var apis []*Api
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &apis); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	} else {
		apis, err = parseJSONL(data)
		if err != nil {
			return nil, err
		}
	}

	for _, a := range apis {
		if err := flattenRet(a); err != nil {
			return nil, err
		}
	}
	return apis, nil
}

func parseJSONL(data []byte) ([]*Api, error) {
	var apis []*Api
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var a Api
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", i+1, err)
		}
		apis = append(apis, &a)
	}
	return apis, nil
}

// flattenRet turns a single ret-flagged argument of a void function into its return slot.
func flattenRet(a *Api) error {
	var retIdx []int
	for i, arg := range a.Args {
		if arg.Flag == FlagRet {
			retIdx = append(retIdx, i)
		}
	}
	switch {
	case len(retIdx) == 0:
		return nil
	case len(retIdx) > 1:
		return fmt.Errorf("function %s has %d ret arguments", a.Name, len(retIdx))
	case strings.TrimSpace(a.Return.Type) != "void":
		return nil
	}

	r := a.Args[retIdx[0]]
	a.Args = append(a.Args[:retIdx[0]:retIdx[0]], a.Args[retIdx[0]+1:]...)
	r.Type = strings.TrimSpace(strings.ReplaceAll(r.Type, "*", ""))
	r.Flag = FlagVal
	r.Size = -1
	if len(r.Const) > 1 {
		r.Const = r.Const[len(r.Const)-1:]
	}
	a.Return = r
	logging.Get(logging.CategoryCatalog).Debug("flattened ret argument of %s into %s", a.Name, r.Type)
	return nil
}
