package geomhelp

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// WKT encodes a geometry for use in messages, truncated to maxLen characters (0 for no limit).
func WKT(g geom.Geometry, maxLen uint) string {
	s, err := wkt.EncodeString(g)
	if err != nil {
		s = fmt.Sprintf("%T%v", g, g)
	}
	if maxLen == 0 {
		return s
	}
	return truncate.StringWithTail(s, maxLen, "...")
}

// TypeName returns the WKT name of the geometry type, e.g. MULTIPOLYGON.
func TypeName(g geom.Geometry) string {
	switch g.(type) {
	case nil:
		return "NULL"
	case geom.Point, *geom.Point:
		return "POINT"
	case geom.MultiPoint, *geom.MultiPoint:
		return "MULTIPOINT"
	case geom.LineString, *geom.LineString:
		return "LINESTRING"
	case geom.MultiLineString, *geom.MultiLineString:
		return "MULTILINESTRING"
	case geom.Polygon, *geom.Polygon:
		return "POLYGON"
	case geom.MultiPolygon, *geom.MultiPolygon:
		return "MULTIPOLYGON"
	case geom.Collection, *geom.Collection:
		return "GEOMETRYCOLLECTION"
	default:
		return fmt.Sprintf("%T", g)
	}
}

// Overlaps reports whether two extents share at least one point.
func Overlaps(a, b geom.Extent) bool {
	return a.MinX() <= b.MaxX() && a.MaxX() >= b.MinX() &&
		a.MinY() <= b.MaxY() && a.MaxY() >= b.MinY()
}
