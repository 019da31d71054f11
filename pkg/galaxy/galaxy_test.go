package galaxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCollection(t *testing.T) {
	dir := t.TempDir()
	content := `namespace: community
name: docker_manager
version: 1.4.2
readme: README.md
authors:
  - Docker Team
build_ignore:
  - .venv
  - docs/build
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(content), 0644))

	c, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "community.docker_manager", c.FQCN())
	assert.Equal(t, "community-docker_manager-1.4.2.tar.gz", c.Archive())
	assert.Equal(t, []string{".venv", "docs/build"}, c.BuildIgnore)

	v, err := c.SemVer()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v.Minor())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestParseRejectsInvalidMetadata(t *testing.T) {
	cases := map[string]string{
		"bad version":   "namespace: ns\nname: coll\nversion: one\n",
		"loose version": "namespace: ns\nname: coll\nversion: v1.0\n",
		"bad namespace": "namespace: Ns-1\nname: coll\nversion: 1.0.0\n",
		"missing name":  "namespace: ns\nversion: 1.0.0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}
