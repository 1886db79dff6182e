package tms20

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"

	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedTileMatrixSet(t *testing.T) {
	tests := []struct {
		id   string
		epsg int32
	}{
		{id: "NetherlandsRDNewQuad", epsg: 28992},
		{id: "WebMercatorQuad", epsg: 3857},
		{id: "WorldCRS84Quad", epsg: 4326},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := LoadEmbeddedTileMatrixSet(tt.id)
			require.NoErrorf(t, err, "LoadEmbeddedTileMatrixSet() error = %v", err)

			remarshalled, err := json.Marshal(&got)
			require.NoError(t, err)
			rawJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + tt.id + ".json")
			require.NoError(t, err)
			require.JSONEq(t, string(rawJSON), string(remarshalled))

			epsg, err := got.EPSG()
			require.NoError(t, err)
			require.Equal(t, tt.epsg, epsg)
			require.Equal(t, uint(tt.epsg), got.SRID())
		})
	}
}

func TestLoadEmbeddedTileMatrixSet_unknown(t *testing.T) {
	_, err := LoadEmbeddedTileMatrixSet("DoesNotExistQuad")
	require.Error(t, err)
}

func TestLoadJSONTileMatrixSet(t *testing.T) {
	jsonFilePath, err := filepath.Abs(path.Join("testdata", "SomethingWithBottomLeftAndDoubleHeight.json"))
	require.NoError(t, err)
	got, err := LoadJSONTileMatrixSet(jsonFilePath)
	require.NoErrorf(t, err, "LoadJSONTileMatrixSet() error = %v", err)

	remarshalled, err := json.Marshal(&got)
	require.NoError(t, err)
	rawJSON, err := os.ReadFile(jsonFilePath)
	require.NoError(t, err)
	require.JSONEq(t, string(rawJSON), string(remarshalled))
	require.Equal(t, BottomLeft, got.TileMatrices[0].CornerOfOrigin)
	require.Equal(t, uint(1), got.SRID())
}

func TestTileMatrixSet_Size(t *testing.T) {
	type args struct {
		zoom uint
	}
	type want struct {
		ok   bool
		tile *slippy.Tile
	}
	tests := []struct {
		id string
		args
		want
	}{
		{id: "WebMercatorQuad",
			args: args{0},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 1, Y: 1}}},
		{id: "WebMercatorQuad",
			args: args{1},
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 2, Y: 2}}},
		{id: "WorldCRS84Quad",
			args: args{0},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 2, Y: 1}}},
		{id: "WebMercatorQuad",
			args: args{99},
			want: want{ok: false, tile: nil}},
		{id: "SomethingWithBottomLeftAndDoubleHeight",
			args: args{0},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 2, Y: 4}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.Size(%v)", tt.id, tt.zoom), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			tile, ok := tms.Size(tt.args.zoom)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.tile, tile)
			}
		})
	}
}

func TestTileMatrixSet_FromNative(t *testing.T) {
	type args struct {
		zoom uint
		pt   geom.Point
	}
	type want struct {
		ok   bool
		tile *slippy.Tile
	}
	tests := []struct {
		id string
		args
		want
	}{
		{id: "NetherlandsRDNewQuad",
			args: args{1, geom.Point{200000.0, 400000.0}},
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 1, Y: 1}}},
		{"NetherlandsRDNewQuad",
			args{100, geom.Point{}}, // zoom too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{-285401.92 - 1, 903401.92}}, // x too small
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{-285401.92, 903401.92 + 1}}, // y too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{595401.92 + 1, 22598.08}}, // x too large
			want{false, nil}},
		{"NetherlandsRDNewQuad",
			args{0, geom.Point{595401.92, 22598.08 - 1}}, // y too small
			want{false, nil}},
		{id: "WebMercatorQuad",
			args: args{1, geom.Point{1, 1}},
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 1, Y: 0}}},
		{id: "WebMercatorQuad",
			args: args{1, geom.Point{-1, -1}},
			want: want{ok: true, tile: &slippy.Tile{Z: 1, X: 0, Y: 1}}},
		{id: "SomethingWithBottomLeftAndDoubleHeight",
			args: args{0, geom.Point{1300.0, 2600.0}},
			want: want{ok: true, tile: &slippy.Tile{Z: 0, X: 1, Y: 2}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.FromNative(%v, %v)", tt.id, tt.zoom, tt.pt.XY()), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			tile, ok := tms.FromNative(tt.args.zoom, tt.args.pt)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.tile, tile)
			}
		})
	}
}

func TestTileMatrixSet_ToNative(t *testing.T) {
	tests := []struct {
		id   string
		tile *slippy.Tile
		ok   bool
		pt   geom.Point
	}{
		{"WebMercatorQuad", &slippy.Tile{Z: 1, X: 1, Y: 1}, true, geom.Point{0, 0}},
		{"SomethingWithBottomLeftAndDoubleHeight", &slippy.Tile{Z: 0, X: 1, Y: 1}, true, geom.Point{1256.0, 2512.0}},
		{"SomethingWithBottomLeftAndDoubleHeight", &slippy.Tile{Z: 0, X: 3, Y: 1}, false, geom.Point{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v.ToNative(%v)", tt.id, tt.tile), func(t *testing.T) {
			tms, err := loadTestOrEmbeddedTileMatrix(tt.id)
			require.NoError(t, err)
			point, ok := tms.ToNative(tt.tile)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.InDelta(t, tt.pt.X(), point.X(), 1e-6)
				require.InDelta(t, tt.pt.Y(), point.Y(), 1e-6)
			}
		})
	}
}

func TestTileMatrix_Bounds(t *testing.T) {
	tms, err := LoadEmbeddedTileMatrixSet("WorldCRS84Quad")
	require.NoError(t, err)
	require.Equal(t, geom.Extent{-180, -90, 180, 90}, tms.TileMatrices[0].Bounds())
	require.Equal(t, geom.Extent{-180, -90, 180, 90}, tms.TileMatrices[3].Bounds())

	tms, err = loadTestOrEmbeddedTileMatrix("SomethingWithBottomLeftAndDoubleHeight")
	require.NoError(t, err)
	require.Equal(t, geom.Extent{1000, 2000, 1512, 3024}, tms.TileMatrices[0].Bounds())
}

func loadTestOrEmbeddedTileMatrix(id string) (TileMatrixSet, error) {
	p, err := filepath.Abs(path.Join("testdata", id+".json"))
	if err != nil {
		return TileMatrixSet{}, err
	}
	tms, err := LoadJSONTileMatrixSet(p)
	if err != nil {
		tms, err = LoadEmbeddedTileMatrixSet(id)
	}
	return tms, err
}
