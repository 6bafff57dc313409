package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadDefinition loads a workflow definition from a CUE file or package
// directory, or from a YAML or JSON file, and validates it.
func LoadDefinition(ctx context.Context, path string) (*WorkflowDefinition, error) {
	parsed, err := ParseDefinition(ctx, path)
	if err != nil {
		return nil, err
	}
	if parsed.Definition == nil {
		return nil, &DefinitionError{Errors: parsed.Errors}
	}
	return parsed.Definition, nil
}

// ParseDefinition parses a definition, dispatching on the file extension.
// Directories are loaded as CUE packages.
func ParseDefinition(ctx context.Context, path string) (*ParsedDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definition %s: %w", path, err)
	}
	if info.IsDir() {
		return NewCUEParser().Parse(ctx, []string{path})
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return NewCUEParser().Parse(ctx, []string{path})
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition %s: %w", path, err)
		}
		return ParseYAML(data, path), nil
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", path)
	}
}

// ParseYAML parses a YAML (or JSON) workflow definition. Like CUE sources,
// the workflow may sit under a top-level "workflow" key.
func ParseYAML(data []byte, filename string) *ParsedDefinition {
	parsed := &ParsedDefinition{
		SourceFiles: []string{filename},
		ParsedAt:    time.Now(),
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		parsed.Errors = []ValidationError{yamlError(filename, err)}
		return parsed
	}
	node := workflowNode(&doc)
	if node == nil {
		parsed.Errors = []ValidationError{{File: filename, Message: "empty definition", Severity: "error"}}
		return parsed
	}

	var def WorkflowDefinition
	if err := decodeStrict(node, &def); err != nil {
		parsed.Errors = []ValidationError{yamlError(filename, err)}
		return parsed
	}

	errs := ValidateDefinition(&def)
	for i := range errs {
		errs[i].File = filename
	}
	parsed.Errors = errs
	if !HasErrors(errs) {
		parsed.Definition = &def
	}
	return parsed
}

// workflowNode returns the mapping holding the workflow.
func workflowNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return root
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == workflowField {
			return root.Content[i+1]
		}
	}
	return root
}

// decodeStrict decodes a node rejecting unknown fields.
func decodeStrict(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func yamlError(filename string, err error) ValidationError {
	return ValidationError{
		File:     filename,
		Message:  err.Error(),
		Severity: "error",
	}
}
