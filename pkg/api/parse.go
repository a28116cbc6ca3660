package api

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/browser-build/pkg/errs"
)

// LoadDocument reads a configuration document, expands environment
// placeholders, checks it against the document schema and validates it.
// Files ending in .json or .jsonc may carry comments and trailing commas.
func LoadDocument(filename string, lookup LookupFunc) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &errs.ConfigurationError{Reason: "reading config file", Err: err}
	}

	jsonInput := false
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".jsonc":
		jsonInput = true
	}

	doc, err := ParseDocument(data, jsonInput, lookup)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filename, err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	doc.FilePath = absPath

	return doc, nil
}

// ParseDocument parses raw document bytes. Placeholders are expanded on the
// raw text before any field is decoded.
func ParseDocument(data []byte, jsonInput bool, lookup LookupFunc) (*Document, error) {
	sum := blake3.Sum256(data)

	expanded, err := ExpandEnv(string(data), lookup)
	if err != nil {
		return nil, err
	}

	content := []byte(expanded)
	if jsonInput {
		content = jsonc.ToJSON(content)
	}

	var generic any
	if err := yaml.Unmarshal(content, &generic); err != nil {
		return nil, &errs.ConfigurationError{Reason: "parsing config file", Err: err}
	}
	if generic == nil {
		return nil, errs.Configurationf("config file is empty")
	}

	problems, err := ValidateSchema(generic)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, errs.Configurationf("config file does not match schema: %s", strings.Join(problems, "; "))
	}

	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, &errs.ConfigurationError{Reason: "parsing config file", Err: err}
	}
	doc.Hash = hex.EncodeToString(sum[:])

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}
