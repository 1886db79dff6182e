package pyramid

import (
	"fmt"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/stretchr/testify/require"
)

func mustPyramid(t *testing.T, grid string, metatiling uint) *Pyramid {
	t.Helper()
	p, err := FromEmbedded(grid, metatiling)
	require.NoError(t, err)
	return p
}

func TestNew_invalidMetatiling(t *testing.T) {
	_, err := FromEmbedded("WebMercatorQuad", 3)
	require.Error(t, err)
	_, err = FromEmbedded("NoSuchQuad", 1)
	require.Error(t, err)
}

func TestPyramid_MatrixSize(t *testing.T) {
	tests := []struct {
		grid       string
		metatiling uint
		zoom       uint
		cols, rows uint
		ok         bool
	}{
		{"WebMercatorQuad", 1, 0, 1, 1, true},
		{"WebMercatorQuad", 1, 3, 8, 8, true},
		{"WebMercatorQuad", 4, 3, 2, 2, true},
		{"WebMercatorQuad", 16, 3, 1, 1, true},
		{"WorldCRS84Quad", 1, 0, 2, 1, true},
		{"WorldCRS84Quad", 2, 0, 1, 1, true},
		{"WorldCRS84Quad", 1, 99, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s-mt%d-z%d", tt.grid, tt.metatiling, tt.zoom), func(t *testing.T) {
			cols, rows, ok := mustPyramid(t, tt.grid, tt.metatiling).MatrixSize(tt.zoom)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.cols, cols)
			require.Equal(t, tt.rows, rows)
		})
	}
}

func TestPyramid_Bounds(t *testing.T) {
	p := mustPyramid(t, "WorldCRS84Quad", 1)
	bounds, err := p.Bounds(Tile{Zoom: 0, Row: 0, Col: 1})
	require.NoError(t, err)
	require.Equal(t, geom.Extent{0, -90, 180, 90}, bounds)

	// the metatile is clipped to the matrix
	p = mustPyramid(t, "WorldCRS84Quad", 2)
	bounds, err = p.Bounds(Tile{Zoom: 0, Row: 0, Col: 0})
	require.NoError(t, err)
	require.Equal(t, geom.Extent{-180, -90, 180, 90}, bounds)

	_, err = p.Bounds(Tile{Zoom: 0, Row: 0, Col: 1})
	require.Error(t, err)
	_, err = p.Bounds(Tile{Zoom: 42})
	require.Error(t, err)
}

func TestPyramid_Buffered(t *testing.T) {
	p := mustPyramid(t, "WorldCRS84Quad", 1)
	buffered, err := p.Buffered(Tile{Zoom: 0, Row: 0, Col: 0}, 2)
	require.NoError(t, err)
	require.Equal(t, uint(2), buffered.PixelBuffer)
	require.Equal(t, Tile{Zoom: 0, Row: 0, Col: 0}, buffered.Tile)
	require.Equal(t, geom.Extent{-180 - 1.40625, -90 - 1.40625, 0 + 1.40625, 90 + 1.40625}, buffered.Extent)
}

func TestPyramid_Intersecting(t *testing.T) {
	tests := []struct {
		name        string
		process     *Pyramid
		output      *Pyramid
		tile        Tile
		pixelBuffer uint
		want        []Tile
	}{
		{
			name:    "same pyramid, no buffer",
			process: mustPyramid(t, "WebMercatorQuad", 1),
			output:  mustPyramid(t, "WebMercatorQuad", 1),
			tile:    Tile{Zoom: 2, Row: 1, Col: 1},
			want:    []Tile{{Zoom: 2, Row: 1, Col: 1}},
		},
		{
			name:        "same pyramid, buffered inner tile",
			process:     mustPyramid(t, "WebMercatorQuad", 1),
			output:      mustPyramid(t, "WebMercatorQuad", 1),
			tile:        Tile{Zoom: 2, Row: 1, Col: 1},
			pixelBuffer: 1,
			want: []Tile{
				{2, 0, 0}, {2, 0, 1}, {2, 0, 2},
				{2, 1, 0}, {2, 1, 1}, {2, 1, 2},
				{2, 2, 0}, {2, 2, 1}, {2, 2, 2},
			},
		},
		{
			name:        "same pyramid, buffered corner tile",
			process:     mustPyramid(t, "WebMercatorQuad", 1),
			output:      mustPyramid(t, "WebMercatorQuad", 1),
			tile:        Tile{Zoom: 2, Row: 0, Col: 0},
			pixelBuffer: 10,
			want:        []Tile{{2, 0, 0}, {2, 0, 1}, {2, 1, 0}, {2, 1, 1}},
		},
		{
			name:    "metatile to tiles",
			process: mustPyramid(t, "WebMercatorQuad", 2),
			output:  mustPyramid(t, "WebMercatorQuad", 1),
			tile:    Tile{Zoom: 2, Row: 1, Col: 0},
			want:    []Tile{{2, 2, 0}, {2, 2, 1}, {2, 3, 0}, {2, 3, 1}},
		},
		{
			name:    "tile to metatile",
			process: mustPyramid(t, "WebMercatorQuad", 1),
			output:  mustPyramid(t, "WebMercatorQuad", 2),
			tile:    Tile{Zoom: 2, Row: 3, Col: 3},
			want:    []Tile{{2, 1, 1}},
		},
		{
			name:        "geodetic buffered west tile",
			process:     mustPyramid(t, "WorldCRS84Quad", 1),
			output:      mustPyramid(t, "WorldCRS84Quad", 1),
			tile:        Tile{Zoom: 0, Row: 0, Col: 0},
			pixelBuffer: 1,
			want:        []Tile{{0, 0, 0}, {0, 0, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffered, err := tt.process.Buffered(tt.tile, tt.pixelBuffer)
			require.NoError(t, err)
			require.Equal(t, tt.want, tt.output.Intersecting(buffered))
		})
	}
}

func TestPyramid_TilesFromBounds(t *testing.T) {
	p := mustPyramid(t, "WorldCRS84Quad", 1)
	require.Equal(t, []Tile{{1, 0, 2}}, p.TilesFromBounds(geom.Extent{10, 10, 20, 20}, 1))
	require.Nil(t, p.TilesFromBounds(geom.Extent{200, 10, 220, 20}, 1))
	require.Nil(t, p.TilesFromBounds(geom.Extent{10, 10, 20, 20}, 77))
	require.Len(t, p.TilesFromBounds(geom.Extent{-1000, -1000, 1000, 1000}, 1), 8)
}

func TestTile_Slippy(t *testing.T) {
	require.Equal(t, &slippy.Tile{Z: 3, X: 5, Y: 2}, Tile{Zoom: 3, Row: 2, Col: 5}.Slippy())
	require.Equal(t, "3/2/5", Tile{Zoom: 3, Row: 2, Col: 5}.String())
}
