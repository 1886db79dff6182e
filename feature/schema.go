package feature

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/slices"
)

// GeometryType is the geometry type a schema allows.
type GeometryType string

const (
	Geometry     GeometryType = "Geometry"
	Point        GeometryType = "Point"
	MultiPoint   GeometryType = "MultiPoint"
	Line         GeometryType = "Line"
	MultiLine    GeometryType = "MultiLine"
	Polygon      GeometryType = "Polygon"
	MultiPolygon GeometryType = "MultiPolygon"
)

// GeometryTypes lists all geometry types a schema may declare.
var GeometryTypes = []GeometryType{Geometry, Point, MultiPoint, Line, MultiLine, Polygon, MultiPolygon}

func (g GeometryType) Valid() bool {
	return slices.Contains(GeometryTypes, g)
}

// PropertyType is the base type of an attribute, e.g. "str" for "str:80".
type PropertyType string

const (
	String   PropertyType = "str"
	Int      PropertyType = "int"
	Int32    PropertyType = "int32"
	Int64    PropertyType = "int64"
	Float    PropertyType = "float"
	Bool     PropertyType = "bool"
	Date     PropertyType = "date"
	DateTime PropertyType = "datetime"
	Time     PropertyType = "time"
	Bytes    PropertyType = "bytes"
)

var propertyTypes = []PropertyType{String, Int, Int32, Int64, Float, Bool, Date, DateTime, Time, Bytes}

// ParsePropertyType parses a type declaration with an optional width, like "str:254" or "float:10.2".
func ParsePropertyType(s string) (PropertyType, error) {
	base, _, _ := strings.Cut(s, ":")
	t := PropertyType(base)
	if !slices.Contains(propertyTypes, t) {
		return "", fmt.Errorf("unknown property type %q, expected one of %v", s, propertyTypes)
	}
	return t, nil
}

// Schema declares the geometry type and the ordered attributes of features.
type Schema struct {
	Geometry   GeometryType                                 `json:"geometry"`
	Properties *orderedmap.OrderedMap[string, PropertyType] `json:"properties"`
}

func NewSchema(geometry GeometryType) Schema {
	return Schema{
		Geometry:   geometry,
		Properties: orderedmap.New[string, PropertyType](),
	}
}

// WithProperty returns a copy of the schema with the attribute added at the end.
// The schema it is called on is left as it is.
func (s Schema) WithProperty(name string, t PropertyType) Schema {
	properties := orderedmap.New[string, PropertyType]()
	if s.Properties != nil {
		for p := s.Properties.Oldest(); p != nil; p = p.Next() {
			properties.Set(p.Key, p.Value)
		}
	}
	properties.Set(name, t)
	s.Properties = properties
	return s
}

// PropertyNames returns the attribute names in declaration order.
func (s Schema) PropertyNames() []string {
	if s.Properties == nil {
		return nil
	}
	names := make([]string, 0, s.Properties.Len())
	for p := s.Properties.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	raw := struct {
		Geometry   GeometryType                                 `json:"geometry"`
		Properties *orderedmap.OrderedMap[string, PropertyType] `json:"properties"`
	}{Properties: orderedmap.New[string, PropertyType]()}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Geometry.Valid() {
		return fmt.Errorf("invalid geometry type %q", raw.Geometry)
	}
	s.Geometry = raw.Geometry
	s.Properties = raw.Properties
	return nil
}
