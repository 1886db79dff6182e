package gpkg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/pyramid"
)

func testSchema() feature.Schema {
	return feature.NewSchema(feature.Point).
		WithProperty("name", feature.String).
		WithProperty("count", feature.Int).
		WithProperty("score", feature.Float)
}

func testTile() pyramid.BufferedTile {
	return pyramid.BufferedTile{
		Tile:   pyramid.Tile{Zoom: 1, Row: 0, Col: 1},
		Extent: geom.Extent{0, 0, 90, 90},
	}
}

func testFeatures() feature.Batch {
	return feature.Batch{
		{Geometry: geom.Point{1, 2}, Properties: map[string]interface{}{"name": "a", "count": 1, "score": 0.5}},
		{Geometry: geom.Point{3, 4}, Properties: map[string]interface{}{"name": "b", "count": int64(2)}},
		{Geometry: geom.Point{5, 6}, Properties: map[string]interface{}{"name": "c", "count": 3.0, "score": 1}},
	}
}

func TestCodec_EncodeDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.gpkg")
	codec := NewCodec(4326)
	require.NoError(t, codec.Encode(testFeatures(), testSchema(), testTile(), path))

	got, err := Decode(path)
	require.NoError(t, err)
	want := feature.Batch{
		{Geometry: geom.Point{1, 2}, Properties: map[string]interface{}{"name": "a", "count": int64(1), "score": 0.5}},
		{Geometry: geom.Point{3, 4}, Properties: map[string]interface{}{"name": "b", "count": int64(2), "score": nil}},
		{Geometry: geom.Point{5, 6}, Properties: map[string]interface{}{"name": "c", "count": int64(3), "score": 1.0}},
	}
	require.Equal(t, want, got)

	source, err := OpenSource(path)
	require.NoError(t, err)
	require.Equal(t, "1", source.Layer())
	require.Equal(t, 4326, source.SRID())
	extent, err := source.Extent()
	require.NoError(t, err)
	require.Equal(t, testTile().Extent, extent)
	require.NoError(t, source.Close())
}

func TestCodec_EncodeOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3.gpkg")
	codec := NewCodec(3857)
	require.NoError(t, codec.Encode(testFeatures(), testSchema(), testTile(), path))
	first, err := Decode(path)
	require.NoError(t, err)

	require.NoError(t, codec.Encode(testFeatures(), testSchema(), testTile(), path))
	second, err := Decode(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, second, 3)

	_, err = os.Stat(path + ".tmp")
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCodec_EncodeRejectsMismatches(t *testing.T) {
	tests := []struct {
		name     string
		features feature.Batch
		wantErr  error
	}{
		{
			name:     "geometry type",
			features: feature.Batch{{Geometry: geom.LineString{{0, 0}, {1, 1}}, Properties: map[string]interface{}{"name": "a"}}},
			wantErr:  ErrGeometryType,
		},
		{
			name:     "undeclared property",
			features: feature.Batch{{Geometry: geom.Point{0, 0}, Properties: map[string]interface{}{"color": "red"}}},
			wantErr:  ErrProperty,
		},
		{
			name:     "property type",
			features: feature.Batch{{Geometry: geom.Point{0, 0}, Properties: map[string]interface{}{"count": "many"}}},
			wantErr:  ErrProperty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "0.gpkg")
			err := NewCodec(4326).Encode(tt.features, testSchema(), testTile(), path)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), err.Error())
			_, err = os.Stat(path)
			require.True(t, errors.Is(err, os.ErrNotExist))
			_, err = os.Stat(path + ".tmp")
			require.True(t, errors.Is(err, os.ErrNotExist))
		})
	}
}

func TestCodec_EncodeAnyGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.gpkg")
	features := feature.Batch{
		{Geometry: geom.Point{1, 1}},
		{Geometry: geom.Polygon{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}}},
		{Geometry: nil},
	}
	require.NoError(t, NewCodec(4326).Encode(features, feature.NewSchema(feature.Geometry), testTile(), path))
	got, err := Decode(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, geom.Point{1, 1}, got[0].Geometry)
	require.Nil(t, got[2].Geometry)
}

func TestOpenSource_missing(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "nope.gpkg"))
	require.Error(t, err)
	_, err = Decode(filepath.Join(t.TempDir(), "nope.gpkg"))
	require.Error(t, err)
}

func TestTable_SQL(t *testing.T) {
	tbl := newTable("5", testSchema(), 4326)
	require.Equal(t,
		`CREATE TABLE "5"("fid" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, "name" TEXT, "count" INTEGER, "score" REAL, "geom" POINT);`,
		tbl.createSQL())
	require.Equal(t, `INSERT INTO "5"("name","count","score","geom") VALUES(?,?,?,?)`, tbl.insertSQL())
}

func TestPropertyValue(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		ptype   feature.PropertyType
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{feature.String, "x", "x", false},
		{feature.String, 1, nil, true},
		{feature.Int, 3, int64(3), false},
		{feature.Int, 3.0, int64(3), false},
		{feature.Int, 3.5, nil, true},
		{feature.Float, 2, 2.0, false},
		{feature.Bool, true, true, false},
		{feature.Bool, "yes", nil, true},
		{feature.Date, day, "2024-03-01", false},
		{feature.DateTime, day, "2024-03-01T12:30:00Z", false},
		{feature.Time, day, "12:30:00", false},
		{feature.Int, nil, nil, false},
		{feature.Int32, int32(7), int64(7), false},
		{feature.Int64, int64(1) << 40, int64(1) << 40, false},
		{feature.Bytes, []byte{1, 2}, []byte{1, 2}, false},
		{feature.Bytes, "ab", []byte("ab"), false},
		{feature.Bytes, 1, nil, true},
	}
	for _, tt := range tests {
		got, err := propertyValue(tt.ptype, tt.in)
		if tt.wantErr {
			require.Error(t, err, "%s %v", tt.ptype, tt.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestCodec_EncodeDecodeFionaTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2.gpkg")
	schema := feature.NewSchema(feature.Point).
		WithProperty("small", feature.Int32).
		WithProperty("big", feature.Int64).
		WithProperty("raw", feature.Bytes)
	features := feature.Batch{
		{Geometry: geom.Point{1, 2}, Properties: map[string]interface{}{"small": 1, "big": int64(1) << 40, "raw": []byte{0, 1, 2}}},
	}
	require.NoError(t, NewCodec(4326).Encode(features, schema, testTile(), path))

	got, err := Decode(path)
	require.NoError(t, err)
	require.Equal(t, feature.Batch{
		{Geometry: geom.Point{1, 2}, Properties: map[string]interface{}{"small": int64(1), "big": int64(1) << 40, "raw": []byte{0, 1, 2}}},
	}, got)
}
