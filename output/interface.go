// Package output writes feature batches of process tiles to tile directories and opens them again as input.
package output

import (
	"context"
	"errors"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/pyramid"
)

var (
	// ErrNotImplemented marks operations a driver deliberately does not support. Do not retry.
	ErrNotImplemented = errors.New("not implemented")
	// ErrValidation is returned for missing or mistyped configuration keys.
	ErrValidation = errors.New("invalid output configuration")
	// ErrInvalidGeometryType is returned when the schema geometry is not one of feature.GeometryTypes.
	ErrInvalidGeometryType = errors.New("invalid geometry type")
)

// ContentTypeJSON is the content type of vector data prepared for the web.
const ContentTypeJSON = "application/json"

// Mode tells whether a driver can read, write or both.
type Mode string

const (
	ModeRead      Mode = "r"
	ModeWrite     Mode = "w"
	ModeReadWrite Mode = "rw"
)

// Metadata describes a driver.
type Metadata struct {
	DriverName string
	DataType   string
	Mode       Mode
}

// Driver is the capability set shared by output formats.
type Driver interface {
	Metadata() Metadata
	// IsValidWithConfig checks the output configuration, failing with ErrValidation or ErrInvalidGeometryType
	IsValidWithConfig(config map[string]interface{}) (bool, error)
	// Read reads an output tile
	Read(outputTile pyramid.Tile) (feature.Batch, error)
	// Write stores the data of a process tile in every output tile it intersects
	Write(ctx context.Context, processTile pyramid.BufferedTile, data interface{}) error
	// Empty returns the data of a tile without features
	Empty(processTile *pyramid.BufferedTile) feature.Batch
	// ForWeb prepares data for delivery over HTTP together with its content type
	ForWeb(data interface{}) (feature.Batch, string, error)
	// Open returns the output of process as input for other processes
	Open(tile pyramid.Tile, process Process) InputTile
}

// InputTile reads process output of one tile, caching it until Close.
type InputTile interface {
	Read(validityCheck, noNeighbors bool) (feature.Batch, error)
	IsEmpty(validityCheck bool) (bool, error)
	Close() error
}

// Process computes or fetches the output of a tile.
type Process interface {
	GetRawOutput(tile pyramid.Tile) (feature.Batch, error)
}

// TilePyramid is the output tiling.
type TilePyramid interface {
	// Intersecting returns every tile overlapping the buffered extent of the tile
	Intersecting(tile pyramid.BufferedTile) []pyramid.Tile
	Buffered(tile pyramid.Tile, pixelBuffer uint) (pyramid.BufferedTile, error)
	SRID() int32
}

// Codec encodes features of a tile to a file.
type Codec interface {
	Encode(features feature.Batch, schema feature.Schema, tile pyramid.BufferedTile, path string) error
}

// Use runs fn with the input tile and closes it afterwards, also when fn fails or panics.
func Use(tile InputTile, fn func(InputTile) error) (err error) {
	defer func() {
		if closeErr := tile.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(tile)
}
