// Package gamefile reads and edits per-game JSON records in place. Edits go
// through gjson/sjson so existing keys keep their order and unknown fields
// survive a rewrite untouched.
package gamefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/fortuna/lheq/internal/jsonfile"
)

var (
	// ErrInvalidJSON is returned for files that do not hold a JSON document.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrNotObject is returned when a game record is valid JSON but not an object.
	ErrNotObject = errors.New("game record is not a JSON object")
)

var prettyOptions = &pretty.Options{
	Width:  0,
	Prefix: "",
	Indent: "  ",
}

// ListJSON returns the names of the *.json files in dir, sorted by name.
func ListJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadDocument loads a file and checks that it is valid JSON.
func ReadDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrInvalidJSON)
	}
	return data, nil
}

// ReadObject loads a game record and checks that it is a JSON object.
func ReadObject(path string) ([]byte, error) {
	data, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNotObject)
	}
	return data, nil
}

// SetField sets a top-level key to a raw JSON value. An existing key is
// replaced where it stands; a new key is appended.
func SetField(doc []byte, key string, raw []byte) ([]byte, error) {
	out, err := sjson.SetRawBytes(doc, escapePath(key), raw)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", key, err)
	}
	return out, nil
}

// SetElementField sets key on the index-th element of a top-level array.
func SetElementField(doc []byte, index int, key string, raw []byte) ([]byte, error) {
	path := fmt.Sprintf("%d.%s", index, escapePath(key))
	out, err := sjson.SetRawBytes(doc, path, raw)
	if err != nil {
		return nil, fmt.Errorf("set [%d].%s: %w", index, key, err)
	}
	return out, nil
}

// Pretty reformats doc with two-space indentation. String contents are copied
// verbatim, so non-ASCII text stays literal.
func Pretty(doc []byte) []byte {
	return pretty.PrettyOptions(doc, prettyOptions)
}

// WriteFile pretty-prints doc and atomically replaces path with it.
func WriteFile(path string, doc []byte) error {
	return jsonfile.WriteAtomic(path, Pretty(doc))
}

// Truthy mirrors the truthiness the league scripts have always applied to
// optional fields: null, false, 0, "" and empty containers are all absent.
func Truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) > 0
		}
		return len(r.Map()) > 0
	}
	return false
}

func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
