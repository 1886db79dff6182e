package output

import (
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/pyramid"
)

var _ InputTile = (*InputView)(nil)

// InputView exposes the output of a process for one tile as input.
// The output is fetched at most once per validity flag until Close,
// also when read concurrently. Failed fetches are not cached.
type InputView struct {
	tile    pyramid.Tile
	process Process

	mu         sync.Mutex
	cache      map[bool]feature.Batch
	generation uint64
	group      singleflight.Group
}

func NewInputView(tile pyramid.Tile, process Process) *InputView {
	return &InputView{
		tile:    tile,
		process: process,
		cache:   make(map[bool]feature.Batch),
	}
}

func (v *InputView) Tile() pyramid.Tile {
	return v.tile
}

// Read returns the process output of the tile. Reading neighbouring tiles is not supported.
func (v *InputView) Read(validityCheck, noNeighbors bool) (feature.Batch, error) {
	if noNeighbors {
		return nil, fmt.Errorf("reading tile %v without neighbours: %w", v.tile, ErrNotImplemented)
	}
	return v.fromCache(validityCheck)
}

// IsEmpty reports whether the process output of the tile has no features.
func (v *InputView) IsEmpty(validityCheck bool) (bool, error) {
	features, err := v.fromCache(validityCheck)
	if err != nil {
		return false, err
	}
	return len(features) == 0, nil
}

// Close drops the cached output. The view can be read again afterwards.
func (v *InputView) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.cache)
	v.generation++
	return nil
}

func (v *InputView) fromCache(validityCheck bool) (feature.Batch, error) {
	v.mu.Lock()
	if features, ok := v.cache[validityCheck]; ok {
		v.mu.Unlock()
		return features, nil
	}
	generation := v.generation
	v.mu.Unlock()

	key := strconv.FormatBool(validityCheck) + "/" + strconv.FormatUint(generation, 10)
	result, err, _ := v.group.Do(key, func() (interface{}, error) {
		v.mu.Lock()
		cached, ok := v.cache[validityCheck]
		v.mu.Unlock()
		if ok {
			return cached, nil
		}
		features, err := v.process.GetRawOutput(v.tile)
		if err != nil {
			return nil, err
		}
		if features == nil {
			features = feature.Batch{}
		}
		v.mu.Lock()
		// a Close racing this fetch wins
		if v.generation == generation {
			v.cache[validityCheck] = features
		}
		v.mu.Unlock()
		return features, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(feature.Batch), nil
}
