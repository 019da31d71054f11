// Package schema validates stage manifests against the embedded JSON Schema.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.schema.json
var manifestSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		loader := gojsonschema.NewBytesLoader(manifestSchema)
		compiledSchema, compileErr = gojsonschema.NewSchema(loader)
	})
	return compiledSchema, compileErr
}

// ManifestSchema returns the raw JSON Schema document.
func ManifestSchema() []byte {
	return append([]byte{}, manifestSchema...)
}

// ValidateManifest validates raw manifest YAML against the schema. It
// returns the list of violations, and an error only when the document cannot
// be decoded or the schema cannot be compiled.
func ValidateManifest(yamlData []byte) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling manifest schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if doc == nil {
		return []string{"manifest is empty"}, nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
