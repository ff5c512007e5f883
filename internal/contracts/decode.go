package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"driversynth/internal/catalog"
	"driversynth/internal/logging"
)

type accessJSON struct {
	Access     string          `json:"access"`
	Fields     []int           `json:"fields"`
	Type       json.RawMessage `json:"type"`
	TypeString string          `json:"type_string"`
	Parent     json.RawMessage `json:"parent"`
}

type metadataJSON struct {
	AccessTypeSet []accessJSON `json:"access_type_set"`
	IsArray       bool         `json:"is_array"`
	IsMallocSize  bool         `json:"is_malloc_size"`
	IsFilePath    bool         `json:"is_file_path"`
	LenDependsOn  string       `json:"len_depends_on"`
	SetBy         []string     `json:"set_by"`
}

// Load reads a contract feed file.
func Load(path string, cat *catalog.Catalog) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contracts: %w", err)
	}
	defer f.Close()

	set, err := Decode(f, cat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logging.Catalog("Loaded contracts for %d functions from %s", set.Len(), path)
	return set, nil
}

// Decode parses a JSON array of per-function contracts. Entries for
// functions outside cat are skipped.
func Decode(r io.Reader, cat *catalog.Catalog) (*Set, error) {
	var raw []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse contracts: %w", err)
	}

	set := NewSet()
	for i, entry := range raw {
		var name string
		if err := json.Unmarshal(entry["function_name"], &name); err != nil || name == "" {
			return nil, fmt.Errorf("%w: entry %d has no function_name", ErrMalformedContract, i)
		}
		api, ok := cat.Get(name)
		if !ok {
			continue
		}

		var params []ValueMetadata
		for p := 0; ; p++ {
			msg, ok := entry[fmt.Sprintf("param_%d", p)]
			if !ok {
				break
			}
			md, err := decodeMetadata(msg)
			if err != nil {
				return nil, fmt.Errorf("%s param_%d: %w", name, p, err)
			}
			params = append(params, md)
		}

		retMsg, ok := entry["return"]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no return entry", ErrMalformedContract, name)
		}
		ret, err := decodeMetadata(retMsg)
		if err != nil {
			return nil, fmt.Errorf("%s return: %w", name, err)
		}

		if len(params) != len(api.Args) && len(params) > 0 {
			ret = params[0]
			if len(params)-1 == len(api.Args) {
				params = params[1:]
			} else {
				params = nil
			}
			logging.Get(logging.CategoryCatalog).Debug("%s: param_0 taken as the return contract", name)
		}

		for p, md := range params {
			if err := checkRefs(md, len(params)); err != nil {
				return nil, fmt.Errorf("%s param_%d: %w", name, p, err)
			}
		}
		if err := checkRefs(ret, len(params)); err != nil {
			return nil, fmt.Errorf("%s return: %w", name, err)
		}

		set.Add(&FunctionConditions{Function: name, Params: params, Return: ret})
	}
	return set, nil
}

func checkRefs(md ValueMetadata, arity int) error {
	positions, err := md.SetByPositions()
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p >= arity {
			return fmt.Errorf("%w: set_by param_%d out of range (%d params)", ErrMalformedContract, p, arity)
		}
	}
	if md.LenDependsOn != "" {
		if _, err := ParseParamRef(md.LenDependsOn); err != nil {
			return err
		}
	}
	return nil
}

func decodeMetadata(msg json.RawMessage) (ValueMetadata, error) {
	var mj metadataJSON
	if err := json.Unmarshal(msg, &mj); err != nil {
		return ValueMetadata{}, fmt.Errorf("%w: %v", ErrMalformedContract, err)
	}

	ats := make([]AccessType, 0, len(mj.AccessTypeSet))
	isString := false
	for _, aj := range mj.AccessTypeSet {
		at, err := decodeAccess(aj)
		if err != nil {
			return ValueMetadata{}, err
		}
		if isZeroParent(aj.Parent) {
			if at.TypeString == "i8*" {
				isString = true
			}
		} else {
			var pj accessJSON
			if err := json.Unmarshal(aj.Parent, &pj); err != nil {
				return ValueMetadata{}, fmt.Errorf("%w: parent: %v", ErrMalformedContract, err)
			}
			parent, err := decodeAccess(pj)
			if err != nil {
				return ValueMetadata{}, err
			}
			at.Parent = &parent
		}
		ats = append(ats, at)
	}

	return ValueMetadata{
		ATS:          NewAccessTypeSet(ats...),
		IsArray:      mj.IsArray,
		IsMallocSize: mj.IsMallocSize,
		// static analysis over-approximates file paths; only trust string-like values
		IsFilePath:   mj.IsFilePath && isString,
		LenDependsOn: mj.LenDependsOn,
		SetBy:        mj.SetBy,
	}, nil
}

func decodeAccess(aj accessJSON) (AccessType, error) {
	access, err := ParseAccess(aj.Access)
	if err != nil {
		return AccessType{}, fmt.Errorf("%w: %v", ErrMalformedContract, err)
	}
	at := NewAccessType(access, aj.Fields...)
	at.Type = typeLabel(aj.Type)
	at.TypeString = aj.TypeString
	return at, nil
}

func isZeroParent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("0")) || bytes.Equal(t, []byte("null"))
}

// typeLabel accepts a string or a number.
func typeLabel(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// Validate fails fast on the first cataloged function whose contract is
// missing or whose parameter count disagrees with its signature.
func (s *Set) Validate(cat *catalog.Catalog) error {
	for _, api := range cat.APIs() {
		fc, ok := s.Get(api.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingContract, api.Name)
		}
		if len(fc.Params) != len(api.Args) {
			return fmt.Errorf("%w: %s has %d params in its contract, %d in its signature",
				ErrMalformedContract, api.Name, len(fc.Params), len(api.Args))
		}
	}
	return nil
}
