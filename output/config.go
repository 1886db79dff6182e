package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// ProcessConfig is a process file: where input comes from, which zoom levels to process
// on which pyramid and the output configuration as passed to NewGPKG.
type ProcessConfig struct {
	Input   string        `validate:"required"`
	Zoom    ZoomLevels    `validate:"required,min=1"`
	Pyramid PyramidConfig `validate:"required"`
	// Output keeps the order of keys of nested mappings, see Mapping
	Output map[string]interface{} `validate:"required"`
}

type PyramidConfig struct {
	Grid        string `yaml:"grid" default:"WebMercatorQuad" validate:"required"`
	Metatiling  uint   `yaml:"metatiling" default:"1" validate:"oneof=1 2 4 8 16"`
	PixelBuffer uint   `yaml:"pixelbuffer"`
}

// ZoomLevels is either a single zoom level or a list of them.
type ZoomLevels []uint

func (z *ZoomLevels) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var zoom uint
		if err := node.Decode(&zoom); err != nil {
			return err
		}
		*z = ZoomLevels{zoom}
		return nil
	}
	var zooms []uint
	if err := node.Decode(&zooms); err != nil {
		return err
	}
	*z = zooms
	return nil
}

type rawProcessConfig struct {
	Input   string        `yaml:"input"`
	Zoom    ZoomLevels    `yaml:"zoom"`
	Pyramid PyramidConfig `yaml:"pyramid"`
	Output  yaml.Node     `yaml:"output"`
}

// LoadConfig reads a YAML process file. Relative input and output paths are taken relative to the process file.
func LoadConfig(path string) (ProcessConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ProcessConfig{}, err
	}
	config, err := ParseConfig(b)
	if err != nil {
		return config, fmt.Errorf("could not load %s: %w", path, err)
	}
	config.resolvePaths(filepath.Dir(path))
	return config, nil
}

// resolvePaths makes relative input and output paths relative to baseDir, the directory of the process file.
func (c *ProcessConfig) resolvePaths(baseDir string) {
	c.Input = absolutePath(c.Input, baseDir)
	if outputPath, ok := c.Output["path"].(string); ok {
		c.Output["path"] = absolutePath(outputPath, baseDir)
	}
}

func absolutePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ParseConfig parses a YAML process file, filling in defaults.
func ParseConfig(b []byte) (ProcessConfig, error) {
	var raw rawProcessConfig
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return ProcessConfig{}, err
	}
	if err := defaults.Set(&raw.Pyramid); err != nil {
		return ProcessConfig{}, err
	}
	config := ProcessConfig{Input: raw.Input, Zoom: raw.Zoom, Pyramid: raw.Pyramid}
	if raw.Output.Kind != 0 {
		output, err := nodeValue(&raw.Output)
		if err != nil {
			return config, err
		}
		m, ok := output.(Mapping)
		if !ok {
			return config, &ValidationError{Key: "output", Want: string(kindMapping), Got: fmt.Sprintf("%T", output)}
		}
		config.Output = make(map[string]interface{}, m.Len())
		for p := m.Oldest(); p != nil; p = p.Next() {
			config.Output[p.Key] = p.Value
		}
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return config, fmt.Errorf("invalid process configuration: %w", err)
	}
	return config, nil
}

// OutputMetatiling is the metatiling of the output pyramid, which defaults to that of the process pyramid.
func (c ProcessConfig) OutputMetatiling() (uint, error) {
	root, _ := asMapping(c.Output)
	return optionalUint(root, "metatiling", c.Pyramid.Metatiling)
}

// nodeValue converts a YAML node, turning mappings into ordered mappings.
func nodeValue(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return nodeValue(node.Content[0])
	case yaml.AliasNode:
		return nodeValue(node.Alias)
	case yaml.MappingNode:
		m := orderedmap.New[string, interface{}](len(node.Content) / 2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: %w", node.Content[i].Line, err)
			}
			value, err := nodeValue(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			m.Set(key, value)
		}
		return m, nil
	case yaml.SequenceNode:
		s := make([]interface{}, 0, len(node.Content))
		for _, n := range node.Content {
			value, err := nodeValue(n)
			if err != nil {
				return nil, err
			}
			s = append(s, value)
		}
		return s, nil
	default:
		var value interface{}
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return value, nil
	}
}
