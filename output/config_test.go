package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const processFile = `
input: data/roads.gpkg
zoom: [3, 4]
pyramid:
  grid: WorldCRS84Quad
  metatiling: 2
output:
  format: GPKG
  path: out/roads
  metatiling: 1
  schema:
    geometry: MultiLine
    properties:
      name: str:80
      lanes: int
      surface: str
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roads.yaml")
	require.NoError(t, os.WriteFile(path, []byte(processFile), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "roads.gpkg"), config.Input)
	assert.Equal(t, ZoomLevels{3, 4}, config.Zoom)
	assert.Equal(t, PyramidConfig{Grid: "WorldCRS84Quad", Metatiling: 2}, config.Pyramid)

	metatiling, err := config.OutputMetatiling()
	require.NoError(t, err)
	assert.Equal(t, uint(1), metatiling)

	params, err := ParseParams(config.Output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "roads"), params.Path)
	assert.Equal(t, []string{"name", "lanes", "surface"}, params.Schema.PropertyNames())
}

func TestParseConfig_defaults(t *testing.T) {
	config, err := ParseConfig([]byte(`
input: in.gpkg
zoom: 7
output:
  path: out
  schema: {geometry: Point, properties: {}}
`))
	require.NoError(t, err)
	assert.Equal(t, ZoomLevels{7}, config.Zoom)
	assert.Equal(t, PyramidConfig{Grid: "WebMercatorQuad", Metatiling: 1}, config.Pyramid)

	metatiling, err := config.OutputMetatiling()
	require.NoError(t, err)
	assert.Equal(t, uint(1), metatiling)
}

func TestParseConfig_invalid(t *testing.T) {
	tests := map[string]string{
		"no input":          "zoom: 1\noutput: {path: out}\n",
		"no zoom":           "input: in.gpkg\noutput: {path: out}\n",
		"no output":         "input: in.gpkg\nzoom: 1\n",
		"output is a list":  "input: in.gpkg\nzoom: 1\noutput: [out]\n",
		"invalid metatiles": "input: in.gpkg\nzoom: 1\npyramid: {metatiling: 3}\noutput: {path: out}\n",
		"not yaml":          "input: [in.gpkg\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_paths(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	absOut := filepath.Join(t.TempDir(), "tiles")
	content := "input: ../in.gpkg\nzoom: 1\noutput:\n  path: " + absOut + "\n  schema: {geometry: Point, properties: {}}\n"
	path := filepath.Join(dir, "process.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "in.gpkg"), config.Input)
	assert.Equal(t, absOut, config.Output["path"])

	// ParseConfig has no process file to resolve against
	parsed, err := ParseConfig([]byte("input: in.gpkg\nzoom: 1\noutput: {path: out}\n"))
	require.NoError(t, err)
	assert.Equal(t, "in.gpkg", parsed.Input)
	assert.Equal(t, "out", parsed.Output["path"])
}
