// Package gpkg encodes feature batches into single layer GeoPackages and decodes them back.
package gpkg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"go.uber.org/multierr"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/geomhelp"
	"github.com/pdok/tilevec/pyramid"
)

const (
	fidColumn      = "fid"
	geometryColumn = "geom"
	wktMessageLen  = 80
)

var (
	ErrGeometryType = errors.New("geometry does not match schema")
	ErrProperty     = errors.New("property does not match schema")
)

// sridsInEveryGeopackage are inserted by gpkg.Open already
var sridsInEveryGeopackage = map[int32]bool{-1: true, 0: true, 4326: true}

// Codec writes features to GeoPackages in one spatial reference system.
type Codec struct {
	srs gpkg.SpatialReferenceSystem
}

// NewCodec creates a codec for the EPSG code.
func NewCodec(srid int32) *Codec {
	return &Codec{srs: gpkg.SpatialReferenceSystem{
		Name:                   fmt.Sprintf("EPSG:%d", srid),
		ID:                     int(srid),
		Organization:           "EPSG",
		OrganizationCoordsysID: int(srid),
		Definition:             "undefined",
	}}
}

// Encode writes all features to a new GeoPackage at path, replacing an existing file.
// The layer is named after the file and its extent is the buffered extent of the tile.
// The file only appears at path once it is complete.
func (c *Codec) Encode(features feature.Batch, schema feature.Schema, tile pyramid.BufferedTile, path string) error {
	tmpPath := path + ".tmp"
	if err := removeIfExists(tmpPath); err != nil {
		return err
	}
	layer := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := c.encode(features, schema, tile, layer, tmpPath); err != nil {
		return multierr.Append(err, removeIfExists(tmpPath))
	}
	return os.Rename(tmpPath, path)
}

func (c *Codec) encode(features feature.Batch, schema feature.Schema, tile pyramid.BufferedTile, layer, path string) (err error) {
	handle, err := gpkg.Open(path)
	if err != nil {
		return fmt.Errorf("error opening GeoPackage %s: %w", path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(handle))

	if !sridsInEveryGeopackage[int32(c.srs.ID)] {
		if err = handle.UpdateSRS(c.srs); err != nil {
			return err
		}
	}

	t := newTable(layer, schema, int32(c.srs.ID))
	if err = buildTable(handle, t); err != nil {
		return err
	}
	if err = writeFeatures(handle, t, features); err != nil {
		return err
	}
	extent := tile.Extent
	return handle.UpdateGeometryExtent(t.name, &extent)
}

func writeFeatures(handle *gpkg.Handle, t table, features feature.Batch) (err error) {
	tx, err := handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare(t.insertSQL())
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(stmt))

	for i, f := range features {
		values, err := t.values(f)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		if _, err = stmt.Exec(values...); err != nil {
			return fmt.Errorf("could not insert feature %d: %w", i, err)
		}
	}
	return tx.Commit()
}

type column struct {
	name  string
	ctype string
	ptype feature.PropertyType
}

type table struct {
	name    string
	columns []column
	gtype   feature.GeometryType
	srid    int32
}

func newTable(name string, schema feature.Schema, srid int32) table {
	t := table{name: name, gtype: schema.Geometry, srid: srid}
	if schema.Properties != nil {
		for p := schema.Properties.Oldest(); p != nil; p = p.Next() {
			t.columns = append(t.columns, column{name: p.Key, ctype: columnType(p.Value), ptype: p.Value})
		}
	}
	return t
}

func columnType(t feature.PropertyType) string {
	switch t {
	case feature.Int, feature.Int32, feature.Int64:
		return "INTEGER"
	case feature.Float:
		return "REAL"
	case feature.Bool:
		return "BOOLEAN"
	case feature.Date:
		return "DATE"
	case feature.DateTime:
		return "DATETIME"
	case feature.Bytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func geometryType(g feature.GeometryType) gpkg.GeometryType {
	switch g {
	case feature.Point:
		return gpkg.Point
	case feature.MultiPoint:
		return gpkg.MultiPoint
	case feature.Line:
		return gpkg.Linestring
	case feature.MultiLine:
		return gpkg.MultiLinestring
	case feature.Polygon:
		return gpkg.Polygon
	case feature.MultiPolygon:
		return gpkg.MultiPolygon
	default:
		return gpkg.Geometry
	}
}

func geometryTypeName(g feature.GeometryType) string {
	switch g {
	case feature.Point:
		return "POINT"
	case feature.MultiPoint:
		return "MULTIPOINT"
	case feature.Line:
		return "LINESTRING"
	case feature.MultiLine:
		return "MULTILINESTRING"
	case feature.Polygon:
		return "POLYGON"
	case feature.MultiPolygon:
		return "MULTIPOLYGON"
	default:
		return "GEOMETRY"
	}
}

// createSQL creates a CREATE statement for the feature table
func (t table) createSQL() string {
	columnparts := []string{quote(fidColumn) + ` INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL`}
	for _, c := range t.columns {
		columnparts = append(columnparts, quote(c.name)+` `+c.ctype)
	}
	columnparts = append(columnparts, quote(geometryColumn)+` `+geometryTypeName(t.gtype))
	return `CREATE TABLE ` + quote(t.name) + `(` + strings.Join(columnparts, `, `) + `);`
}

// insertSQL builds the INSERT statement, the geometry being the last value
func (t table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.columns {
		csql = append(csql, quote(c.name))
		vsql = append(vsql, `?`)
	}
	csql = append(csql, quote(geometryColumn))
	vsql = append(vsql, `?`)
	return `INSERT INTO ` + quote(t.name) + `(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
}

// values returns the insert values of a feature in column order
func (t table) values(f feature.Feature) ([]interface{}, error) {
	if len(f.Properties) > len(t.columns) || !t.hasColumns(f.Properties) {
		return nil, fmt.Errorf("%w: properties %v not all declared in schema", ErrProperty, keys(f.Properties))
	}
	values := make([]interface{}, 0, len(t.columns)+1)
	for _, c := range t.columns {
		v, err := propertyValue(c.ptype, f.Properties[c.name])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrProperty, c.name, err)
		}
		values = append(values, v)
	}
	if f.Geometry == nil {
		return append(values, nil), nil
	}
	if !matchesGeometryType(t.gtype, f.Geometry) {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrGeometryType, t.gtype, geomhelp.WKT(f.Geometry, wktMessageLen))
	}
	sb, err := gpkg.NewBinary(t.srid, f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("could not create a binary geometry of %s: %w", geomhelp.WKT(f.Geometry, wktMessageLen), err)
	}
	return append(values, sb), nil
}

func (t table) hasColumns(properties map[string]interface{}) bool {
	for name := range properties {
		found := false
		for _, c := range t.columns {
			if c.name == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesGeometryType(gtype feature.GeometryType, g geom.Geometry) bool {
	switch gtype {
	case feature.Point:
		_, ok := g.(geom.Point)
		return ok
	case feature.MultiPoint:
		_, ok := g.(geom.MultiPoint)
		return ok
	case feature.Line:
		_, ok := g.(geom.LineString)
		return ok
	case feature.MultiLine:
		_, ok := g.(geom.MultiLineString)
		return ok
	case feature.Polygon:
		_, ok := g.(geom.Polygon)
		return ok
	case feature.MultiPolygon:
		_, ok := g.(geom.MultiPolygon)
		return ok
	default:
		return true
	}
}

// buildTable creates the feature table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t table) error {
	if _, err := h.Exec(t.createSQL()); err != nil {
		return fmt.Errorf("error building table %s: %w", t.name, err)
	}
	err := h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.name,
		ShortName:     t.name,
		Description:   t.name,
		GeometryField: geometryColumn,
		GeometryType:  geometryType(t.gtype),
		SRS:           t.srid,
		Z:             gpkg.Prohibited,
		M:             gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table %s: %w", t.name, err)
	}
	return nil
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func keys(m map[string]interface{}) []string {
	k := make([]string, 0, len(m))
	for key := range m {
		k = append(k, key)
	}
	return k
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove %s: %w", path, err)
	}
	return nil
}
