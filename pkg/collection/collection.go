// Package collection embeds the build pipeline of the Docker Ansible
// collection.
package collection

import (
	_ "embed"

	"github.com/zen-systems/stagerun/pkg/pipeline"
)

// ManifestName is reported as the manifest path for the embedded pipeline.
const ManifestName = "embedded:stages.yaml"

//go:embed stages.yaml
var source []byte

// StageNames lists the collection's stages in declaration order.
var StageNames = []string{
	"venv", "install",
	"ruff-formatter", "ruff-lint-check", "ruff-lint-fix",
	"yaml-lint-check", "ansible-lint-check", "lint-check",
	"typecheck", "test",
	"sphinx", "autodoc", "jekyll", "readme", "build-docs",
	"jekyll-serve", "run-docs",
	"galaxy-build", "galaxy-install", "galaxy-publish",
	"clean", "help", "all",
}

// Source returns a copy of the embedded manifest.
func Source() []byte {
	return append([]byte{}, source...)
}

// Manifest parses the embedded manifest.
func Manifest() (*pipeline.Manifest, error) {
	m, err := pipeline.ParseManifest(source)
	if err != nil {
		return nil, err
	}
	m.Path = ManifestName
	return m, nil
}
