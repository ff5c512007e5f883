package layout

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RandomHash is the placeholder hash the layout extractor emits for anonymous types.
const RandomHash = "<random>"

// Entry describes one compiled type.
type Entry struct {
	Size         int    `yaml:"size" json:"size"` // bits
	Hash         string `yaml:"hash" json:"hash"`
	FuzzFriendly bool   `yaml:"fuzz_friendly" json:"fuzz_friendly"`
}

// Table is the compiled-type layout handed over by the front-end.
type Table struct {
	// Types maps a compiled type name (e.g. "%struct.ctx") to its layout.
	Types map[string]Entry `yaml:"types"`
	// Structs maps a source-level token (e.g. "ctx") to its compiled type name.
	Structs    map[string]string `yaml:"structs"`
	Incomplete []string          `yaml:"incomplete"`
	Enums      []string          `yaml:"enums"`
}

// LoadTable reads a YAML layout table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout table: %w", err)
	}
	var tbl Table
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return nil, fmt.Errorf("failed to parse layout table: %w", err)
	}
	tbl.ensureMaps()
	return &tbl, nil
}

// Save writes the table as YAML.
func (t *Table) Save(path string) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal layout table: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write layout table: %w", err)
	}
	return nil
}

func (t *Table) ensureMaps() {
	if t.Types == nil {
		t.Types = make(map[string]Entry)
	}
	if t.Structs == nil {
		t.Structs = make(map[string]string)
	}
}

// ParseLayoutLines reads "type size hash fuzz_friendly" lines. Keys get a "%" prefix.
// A RandomHash is replaced by 20 lowercase letters drawn from rng.
func ParseLayoutLines(r io.Reader, rng *rand.Rand) (map[string]Entry, error) {
	out := make(map[string]Entry)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 4 {
			return nil, fmt.Errorf("layout line %d: expected 4 fields, got %d", lineNo, len(parts))
		}
		size, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("layout line %d: bad size %q: %w", lineNo, parts[1], err)
		}
		hash := parts[2]
		if hash == RandomHash {
			hash = RandomLetters(rng, 20)
		}
		out["%"+parts[0]] = Entry{Size: size, Hash: hash, FuzzFriendly: parts[3] == "1"}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read layout lines: %w", err)
	}
	return out, nil
}

// ParseNameList reads one name per line, skipping blanks.
func ParseNameList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read name list: %w", err)
	}
	return out, nil
}

// RandomLetters draws n lowercase ASCII letters.
func RandomLetters(rng *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
