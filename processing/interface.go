package processing

import (
	"context"

	"github.com/pdok/tilevec/pyramid"
)

// Func computes the data of a process tile, in any shape output.Driver.Write accepts.
type Func func(ctx context.Context, tile pyramid.BufferedTile) (interface{}, error)

// TilePyramid is the process tiling.
type TilePyramid interface {
	Buffered(tile pyramid.Tile, pixelBuffer uint) (pyramid.BufferedTile, error)
}

// Writer stores the data of process tiles.
type Writer interface {
	Write(ctx context.Context, processTile pyramid.BufferedTile, data interface{}) error
}
