package output

import (
	"fmt"
	"sort"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/tilevec/feature"
)

// Mapping is an ordered configuration mapping, as produced by LoadConfig.
type Mapping = *orderedmap.OrderedMap[string, interface{}]

// ValidationError names the configuration key that is missing or has the wrong type.
type ValidationError struct {
	Key  string
	Want string
	// Got is the type found, empty when the key is missing
	Got string
}

func (e *ValidationError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("%v: key %q is missing", ErrValidation, e.Key)
	}
	return fmt.Sprintf("%v: key %q should be %s, got %s", ErrValidation, e.Key, e.Want, e.Got)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type valueKind string

const (
	kindMapping valueKind = "mapping"
	kindString  valueKind = "string"
)

type keyKind struct {
	key  string
	kind valueKind
}

// Validate checks that config declares a string "path" and a "schema" mapping
// with a "properties" mapping and a "geometry" from feature.GeometryTypes.
// It has no side effects.
func Validate(config map[string]interface{}) (bool, error) {
	root, _ := asMapping(config)
	if err := validateValues(root, "", []keyKind{{"schema", kindMapping}, {"path", kindString}}); err != nil {
		return false, err
	}
	schema, _ := asMapping(get(root, "schema"))
	if err := validateValues(schema, "schema.", []keyKind{{"properties", kindMapping}, {"geometry", kindString}}); err != nil {
		return false, err
	}
	geometry := feature.GeometryType(get(schema, "geometry").(string))
	if !geometry.Valid() {
		return false, fmt.Errorf("%w: %q, expected one of %v", ErrInvalidGeometryType, geometry, feature.GeometryTypes)
	}
	properties, _ := asMapping(get(schema, "properties"))
	for p := properties.Oldest(); p != nil; p = p.Next() {
		key := "schema.properties." + p.Key
		raw, ok := p.Value.(string)
		if !ok {
			return false, &ValidationError{Key: key, Want: string(kindString), Got: fmt.Sprintf("%T", p.Value)}
		}
		if _, err := feature.ParsePropertyType(raw); err != nil {
			return false, fmt.Errorf("%w: key %q: %w", ErrValidation, key, err)
		}
	}
	return true, nil
}

func validateValues(m Mapping, prefix string, expected []keyKind) error {
	for _, kk := range expected {
		v, ok := m.Get(kk.key)
		if !ok {
			return &ValidationError{Key: prefix + kk.key, Want: string(kk.kind)}
		}
		if !isKind(v, kk.kind) {
			return &ValidationError{Key: prefix + kk.key, Want: string(kk.kind), Got: fmt.Sprintf("%T", v)}
		}
	}
	return nil
}

func isKind(v interface{}, kind valueKind) bool {
	switch kind {
	case kindMapping:
		_, ok := asMapping(v)
		return ok
	case kindString:
		_, ok := v.(string)
		return ok
	}
	return false
}

func get(m Mapping, key string) interface{} {
	v, _ := m.Get(key)
	return v
}

// asMapping accepts ordered mappings as they are and plain maps with their keys sorted.
func asMapping(v interface{}) (Mapping, bool) {
	switch m := v.(type) {
	case Mapping:
		if m == nil {
			return orderedmap.New[string, interface{}](), false
		}
		return m, true
	case map[string]interface{}:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := orderedmap.New[string, interface{}](len(keys))
		for _, k := range keys {
			ordered.Set(k, m[k])
		}
		return ordered, true
	default:
		return orderedmap.New[string, interface{}](), false
	}
}

// Params are the typed output parameters of the GPKG driver.
type Params struct {
	Path   string `validate:"required"`
	Schema feature.Schema
	// PixelBuffer buffers output tiles before encoding
	PixelBuffer uint `default:"0"`
	// Concurrency is the number of output tiles written at the same time
	Concurrency int    `default:"1" validate:"min=1"`
	Extension   string `default:".gpkg" validate:"startswith=."`
}

// ParseParams validates config and converts it into Params.
func ParseParams(config map[string]interface{}) (Params, error) {
	var params Params
	if _, err := Validate(config); err != nil {
		return params, err
	}
	if err := defaults.Set(&params); err != nil {
		return params, err
	}
	root, _ := asMapping(config)
	params.Path = get(root, "path").(string)

	schema, _ := asMapping(get(root, "schema"))
	params.Schema = feature.NewSchema(feature.GeometryType(get(schema, "geometry").(string)))
	properties, _ := asMapping(get(schema, "properties"))
	for p := properties.Oldest(); p != nil; p = p.Next() {
		t, _ := feature.ParsePropertyType(p.Value.(string))
		params.Schema = params.Schema.WithProperty(p.Key, t)
	}

	var err error
	if params.PixelBuffer, err = optionalUint(root, "pixelbuffer", params.PixelBuffer); err != nil {
		return params, err
	}
	concurrency, err := optionalUint(root, "concurrency", uint(params.Concurrency))
	if err != nil {
		return params, err
	}
	params.Concurrency = int(concurrency)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(params); err != nil {
		return params, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return params, nil
}

func optionalUint(m Mapping, key string, fallback uint) (uint, error) {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return uint(n), nil
		}
	case uint:
		return n, nil
	case int64:
		if n >= 0 {
			return uint(n), nil
		}
	case float64:
		if n >= 0 && n == float64(uint(n)) {
			return uint(n), nil
		}
	}
	return 0, &ValidationError{Key: key, Want: "non-negative integer", Got: fmt.Sprintf("%T", v)}
}
