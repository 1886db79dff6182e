// Package pyramid lays out (meta)tiles of a tile matrix set and finds tiles intersecting tiles of other pyramids.
package pyramid

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"golang.org/x/exp/slices"

	"github.com/pdok/tilevec/tms20"
)

// edgeTolerance keeps tiles that only touch an extent out of intersection results.
const edgeTolerance = 1e-9

var validMetatiling = []uint{1, 2, 4, 8, 16}

// Tile is a tile identifier in a pyramid.
type Tile struct {
	Zoom uint `json:"zoom"`
	Row  uint `json:"row"`
	Col  uint `json:"col"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Row, t.Col)
}

// Slippy returns the tile as a slippy tile, X being the column and Y the row.
func (t Tile) Slippy() *slippy.Tile {
	return slippy.NewTile(t.Zoom, t.Col, t.Row)
}

// BufferedTile is a tile with its extent grown by a number of pixels on every side.
type BufferedTile struct {
	Tile
	PixelBuffer uint
	// Extent is the buffered extent of the tile
	Extent geom.Extent
}

// Pyramid is a tile matrix set where each tile may combine metatiling x metatiling tiles of the set.
type Pyramid struct {
	tms        tms20.TileMatrixSet
	metatiling uint
	srid       int32
}

// New creates a pyramid for the tile matrix set. Metatiling must be one of 1, 2, 4, 8 or 16.
func New(tms tms20.TileMatrixSet, metatiling uint) (*Pyramid, error) {
	if !slices.Contains(validMetatiling, metatiling) {
		return nil, fmt.Errorf("metatiling must be one of %v, got %d", validMetatiling, metatiling)
	}
	srid, err := tms.EPSG()
	if err != nil {
		return nil, err
	}
	return &Pyramid{tms: tms, metatiling: metatiling, srid: srid}, nil
}

// FromEmbedded creates a pyramid from a built-in tile matrix set, e.g. WebMercatorQuad.
func FromEmbedded(grid string, metatiling uint) (*Pyramid, error) {
	tms, err := tms20.LoadEmbeddedTileMatrixSet(grid)
	if err != nil {
		return nil, err
	}
	return New(tms, metatiling)
}

func (p *Pyramid) Grid() string {
	return p.tms.ID
}

func (p *Pyramid) Metatiling() uint {
	return p.metatiling
}

// SRID is the EPSG code of the coordinate reference system of the pyramid.
func (p *Pyramid) SRID() int32 {
	return p.srid
}

// MatrixSize returns the number of columns and rows of (meta)tiles at a zoom level.
func (p *Pyramid) MatrixSize(zoom uint) (cols, rows uint, ok bool) {
	tm, ok := p.tms.TileMatrices[tms20.TMID(zoom)]
	if !ok {
		return 0, 0, false
	}
	return ceilDiv(tm.MatrixWidth, p.metatiling), ceilDiv(tm.MatrixHeight, p.metatiling), true
}

// Bounds returns the extent of a (meta)tile, clipped to the extent of the tile matrix.
func (p *Pyramid) Bounds(tile Tile) (geom.Extent, error) {
	tm, ok := p.tms.TileMatrices[tms20.TMID(tile.Zoom)]
	if !ok {
		return geom.Extent{}, fmt.Errorf("zoom %d not in tile matrix set %s", tile.Zoom, p.tms.ID)
	}
	cols, rows, _ := p.MatrixSize(tile.Zoom)
	if tile.Col >= cols || tile.Row >= rows {
		return geom.Extent{}, fmt.Errorf("tile %v outside of tile matrix set %s", tile, p.tms.ID)
	}
	spanX, spanY := p.span(tm)
	matrix := tm.Bounds()

	minX := tm.PointOfOrigin[0] + float64(tile.Col)*spanX
	maxX := math.Min(minX+spanX, matrix.MaxX())
	var minY, maxY float64
	if tm.CornerOfOrigin == tms20.BottomLeft {
		minY = tm.PointOfOrigin[1] + float64(tile.Row)*spanY
		maxY = math.Min(minY+spanY, matrix.MaxY())
	} else {
		maxY = tm.PointOfOrigin[1] - float64(tile.Row)*spanY
		minY = math.Max(maxY-spanY, matrix.MinY())
	}
	return geom.Extent{minX, minY, maxX, maxY}, nil
}

// Buffered returns the tile with its extent grown by pixelBuffer pixels of the tile matrix' cell size.
func (p *Pyramid) Buffered(tile Tile, pixelBuffer uint) (BufferedTile, error) {
	extent, err := p.Bounds(tile)
	if err != nil {
		return BufferedTile{}, err
	}
	buffer := float64(pixelBuffer) * p.tms.TileMatrices[tms20.TMID(tile.Zoom)].CellSize
	return BufferedTile{
		Tile:        tile,
		PixelBuffer: pixelBuffer,
		Extent:      geom.Extent{extent[0] - buffer, extent[1] - buffer, extent[2] + buffer, extent[3] + buffer},
	}, nil
}

// Intersecting returns the tiles of this pyramid at the same zoom level whose extent overlaps
// the buffered extent of the given tile. The tile may come from a pyramid with another metatiling
// or tile matrix set. Tiles only touching the extent are left out.
func (p *Pyramid) Intersecting(tile BufferedTile) []Tile {
	return p.TilesFromBounds(tile.Extent, tile.Zoom)
}

// TilesFromBounds returns all tiles at the zoom level overlapping the extent, row by row.
func (p *Pyramid) TilesFromBounds(extent geom.Extent, zoom uint) []Tile {
	tm, ok := p.tms.TileMatrices[tms20.TMID(zoom)]
	if !ok {
		return nil
	}
	cols, rows, _ := p.MatrixSize(zoom)
	spanX, spanY := p.span(tm)

	colMin := int(math.Floor((extent.MinX()-tm.PointOfOrigin[0])/spanX + edgeTolerance))
	colMax := int(math.Ceil((extent.MaxX()-tm.PointOfOrigin[0])/spanX-edgeTolerance)) - 1
	var rowMin, rowMax int
	if tm.CornerOfOrigin == tms20.BottomLeft {
		rowMin = int(math.Floor((extent.MinY()-tm.PointOfOrigin[1])/spanY + edgeTolerance))
		rowMax = int(math.Ceil((extent.MaxY()-tm.PointOfOrigin[1])/spanY-edgeTolerance)) - 1
	} else {
		rowMin = int(math.Floor((tm.PointOfOrigin[1]-extent.MaxY())/spanY + edgeTolerance))
		rowMax = int(math.Ceil((tm.PointOfOrigin[1]-extent.MinY())/spanY-edgeTolerance)) - 1
	}
	if colMax < 0 || rowMax < 0 || colMin >= int(cols) || rowMin >= int(rows) {
		return nil
	}
	colMin, colMax = max(colMin, 0), min(colMax, int(cols)-1)
	rowMin, rowMax = max(rowMin, 0), min(rowMax, int(rows)-1)
	if colMin > colMax || rowMin > rowMax {
		return nil
	}

	tiles := make([]Tile, 0, (colMax-colMin+1)*(rowMax-rowMin+1))
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			tiles = append(tiles, Tile{Zoom: zoom, Row: uint(row), Col: uint(col)})
		}
	}
	return tiles
}

// span is the size in CRS units of a metatile
func (p *Pyramid) span(tm tms20.TileMatrix) (float64, float64) {
	spanX, spanY := tm.TileSpan()
	return spanX * float64(p.metatiling), spanY * float64(p.metatiling)
}

func ceilDiv(n, d uint) uint {
	return (n + d - 1) / d
}
