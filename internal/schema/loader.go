package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Document encodings understood by ParseDocuments.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatFromPath picks an encoding from a file extension. It returns an
// empty string for files that are not schema documents.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

// ParseDocuments decodes one document or a list of documents.
func ParseDocuments(data []byte, format string) ([]Document, error) {
	var raw any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return nil, &types.SchemaError{Reason: fmt.Sprintf("decode json: %v", err)}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &types.SchemaError{Reason: fmt.Sprintf("decode yaml: %v", err)}
		}
	default:
		return nil, &types.SchemaError{Reason: fmt.Sprintf("unsupported document format %q", format)}
	}

	switch v := raw.(type) {
	case []any:
		docs := make([]Document, 0, len(v))
		for i, item := range v {
			m, ok := asMap(item)
			if !ok {
				return nil, &types.SchemaError{Reason: fmt.Sprintf("document %d is not a mapping", i)}
			}
			docs = append(docs, Document(m))
		}
		return docs, nil
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, &types.SchemaError{Reason: "document is not a mapping"}
		}
		return []Document{Document(m)}, nil
	}
}

// ReadFile parses the schema documents in one file.
func ReadFile(path string) ([]Document, error) {
	format := FormatFromPath(path)
	if format == "" {
		return nil, &types.SchemaError{Reason: fmt.Sprintf("%s: not a .json, .yaml or .yml file", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	docs, err := ParseDocuments(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// ReadDir parses every schema file in dir in lexical file-name order.
// Subdirectories and other files are ignored.
func ReadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || FormatFromPath(e.Name()) == "" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var docs []Document
	for _, name := range names {
		fileDocs, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}
