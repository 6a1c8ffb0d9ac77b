package breeds

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_breeds.json
var defaultBreeds []byte

// Format identifies the encoding of a dictionary file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath derives the dictionary format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported breed dictionary extension %q", filepath.Ext(path))
	}
}

// Decode reads a name-to-metadata mapping in the given format.
func Decode(r io.Reader, format Format) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read breed dictionary: %w", err)
	}

	entries := map[string]Metadata{}
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &entries)
	case FormatYAML:
		err = yaml.Unmarshal(data, &entries)
	default:
		return nil, fmt.Errorf("unsupported breed dictionary format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s breed dictionary: %w", format, err)
	}
	return NewCatalog(entries), nil
}

// LoadFile loads a dictionary from a JSON or YAML file.
func LoadFile(path string) (*Catalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, format)
}

// Default returns the dictionary bundled with the binary.
func Default() *Catalog {
	catalog, err := Decode(bytes.NewReader(defaultBreeds), FormatJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded breed dictionary is invalid: %v", err))
	}
	return catalog
}
