// Package galaxy reads Ansible Galaxy collection metadata from galaxy.yml.
package galaxy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// MetadataFile is the collection metadata file name.
const MetadataFile = "galaxy.yml"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Collection is the subset of galaxy.yml the build pipeline needs.
type Collection struct {
	Namespace   string   `yaml:"namespace"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Readme      string   `yaml:"readme,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Authors     []string `yaml:"authors,omitempty"`
	License     []string `yaml:"license,omitempty"`
	Repository  string   `yaml:"repository,omitempty"`
	BuildIgnore []string `yaml:"build_ignore,omitempty"`
}

// Load reads galaxy.yml from dir. A missing file yields (nil, nil).
func Load(dir string) (*Collection, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates collection metadata.
func Parse(data []byte) (*Collection, error) {
	var c Collection
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the fields ansible-galaxy requires to build an archive.
func (c *Collection) Validate() error {
	if !namePattern.MatchString(c.Namespace) {
		return fmt.Errorf("invalid namespace %q", c.Namespace)
	}
	if !namePattern.MatchString(c.Name) {
		return fmt.Errorf("invalid collection name %q", c.Name)
	}
	if _, err := c.SemVer(); err != nil {
		return err
	}
	return nil
}

// SemVer parses the collection version strictly.
func (c *Collection) SemVer() (*semver.Version, error) {
	v, err := semver.StrictNewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid collection version %q: %w", c.Version, err)
	}
	return v, nil
}

// FQCN returns the fully qualified collection name, namespace.name.
func (c *Collection) FQCN() string {
	return c.Namespace + "." + c.Name
}

// Archive returns the file name ansible-galaxy collection build produces.
func (c *Collection) Archive() string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", c.Namespace, c.Name, c.Version)
}
