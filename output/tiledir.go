package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

const metadataFile = "metadata.json"

// ErrNoMetadata is returned by ReadMetadata for tile directories without metadata.json.
var ErrNoMetadata = errors.New("tile directory has no metadata")

// TileDirMetadata describes how a tile directory was written, so it can be opened without the process configuration.
type TileDirMetadata struct {
	Driver  DriverMetadata  `json:"driver" validate:"required"`
	Pyramid PyramidMetadata `json:"pyramid" validate:"required"`
}

type DriverMetadata struct {
	Format string                 `json:"format" validate:"required"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

type PyramidMetadata struct {
	Grid        string `json:"grid" validate:"required"`
	Metatiling  uint   `json:"metatiling" validate:"oneof=1 2 4 8 16"`
	PixelBuffer uint   `json:"pixelbuffer"`
}

// MetadataPath is the location of metadata.json in the tile directory at base.
func MetadataPath(base string) string {
	return filepath.Join(base, metadataFile)
}

// WriteMetadata writes metadata.json into the tile directory at base, creating the directory when needed.
func WriteMetadata(base string, md TileDirMetadata) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(md); err != nil {
		return fmt.Errorf("invalid tile directory metadata: %w", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", base, err)
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(MetadataPath(base), b, 0o644)
}

// ReadMetadata reads metadata.json from the tile directory at base.
func ReadMetadata(base string) (TileDirMetadata, error) {
	var md TileDirMetadata
	b, err := os.ReadFile(MetadataPath(base))
	if errors.Is(err, fs.ErrNotExist) {
		return md, fmt.Errorf("%w: %s", ErrNoMetadata, base)
	}
	if err != nil {
		return md, err
	}
	if err := json.Unmarshal(b, &md); err != nil {
		return md, fmt.Errorf("could not parse %s: %w", MetadataPath(base), err)
	}
	return md, nil
}
