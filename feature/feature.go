// Package feature holds the geometry + attribute records written to and read from tile outputs.
package feature

import (
	"errors"
	"fmt"
	"iter"

	"github.com/go-spatial/geom"

	"github.com/pdok/tilevec/geomhelp"
)

var ErrUnsupportedData = errors.New("unsupported feature data")

// Feature is a GeoJSON-like record: one geometry and its attributes.
type Feature struct {
	Geometry   geom.Geometry          `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Extent returns the bounding box of the geometry.
func (f Feature) Extent() (*geom.Extent, error) {
	return geom.NewExtentFromGeometry(f.Geometry)
}

// Batch is an ordered sequence of features.
type Batch []Feature

// Extent returns the bounding box of all geometries in the batch, nil for an empty batch.
func (b Batch) Extent() (*geom.Extent, error) {
	var ext *geom.Extent
	for i, f := range b {
		fExt, err := f.Extent()
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if fExt == nil {
			continue
		}
		if ext == nil {
			ext = fExt
			continue
		}
		ext.Add(fExt)
	}
	return ext, nil
}

// Intersecting returns the features whose bounding box overlaps the extent.
func (b Batch) Intersecting(extent geom.Extent) Batch {
	var selected Batch
	for _, f := range b {
		fExt, err := f.Extent()
		if err != nil || fExt == nil {
			continue
		}
		if geomhelp.Overlaps(*fExt, extent) {
			selected = append(selected, f)
		}
	}
	return selected
}

// Collect materializes feature data into a Batch owned by the caller.
// Supported are Batch, []Feature, channels of Feature and iter.Seq[Feature].
// Channels and sequences are consumed exactly once. A nil data yields an empty batch,
// also when it is a nil slice, channel or sequence.
func Collect(data interface{}) (Batch, error) {
	switch d := data.(type) {
	case nil:
		return Batch{}, nil
	case Batch:
		return append(Batch{}, d...), nil
	case []Feature:
		return append(Batch{}, d...), nil
	case <-chan Feature:
		return collectChan(d), nil
	case chan Feature:
		return collectChan(d), nil
	case iter.Seq[Feature]:
		return collectSeq(d), nil
	case func(func(Feature) bool):
		return collectSeq(d), nil
	default:
		return nil, fmt.Errorf("%w: expected a feature.Batch, []feature.Feature, a channel of feature.Feature or an iter.Seq[feature.Feature], got %T",
			ErrUnsupportedData, data)
	}
}

func collectChan(features <-chan Feature) Batch {
	batch := Batch{}
	if features == nil {
		return batch
	}
	for f := range features {
		batch = append(batch, f)
	}
	return batch
}

func collectSeq(features iter.Seq[Feature]) Batch {
	batch := Batch{}
	if features == nil {
		return batch
	}
	for f := range features {
		batch = append(batch, f)
	}
	return batch
}
