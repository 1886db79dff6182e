// Package processing takes care of the logistics around computing process tiles and handing them to a Writer.
// Not the processing operation(s) itself.
package processing

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/output"
	"github.com/pdok/tilevec/pyramid"
)

var _ output.Process = (*Process)(nil)

// Process applies a Func to the tiles of a process pyramid.
type Process struct {
	pyramid     TilePyramid
	pixelBuffer uint
	f           Func
	logger      *zap.Logger
}

type Option func(*Process)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Process) {
		p.logger = logger
	}
}

func New(processPyramid TilePyramid, pixelBuffer uint, f Func, opts ...Option) *Process {
	p := &Process{
		pyramid:     processPyramid,
		pixelBuffer: pixelBuffer,
		f:           f,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats counts what Execute did.
type Stats struct {
	Tiles   uint64
	Written uint64
	Empty   uint64
}

// GetRawOutput computes the features of a process tile.
func (p *Process) GetRawOutput(tile pyramid.Tile) (feature.Batch, error) {
	bt, err := p.pyramid.Buffered(tile, p.pixelBuffer)
	if err != nil {
		return nil, err
	}
	data, err := p.f(context.Background(), bt)
	if err != nil {
		return nil, err
	}
	return feature.Collect(data)
}

// Execute computes every tile and writes its data, using the given number of workers.
// It stops at the first failing tile.
func (p *Process) Execute(ctx context.Context, tiles []pyramid.Tile, writer Writer, workers int) (Stats, error) {
	var tileCount, writtenCount, emptyCount atomic.Uint64
	g, ctx := errgroup.WithContext(ctx)

	// distribute the tiles over the workers
	tileChannel := make(chan pyramid.Tile)
	g.Go(func() error {
		defer close(tileChannel)
		for _, tile := range tiles {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case tileChannel <- tile:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < max(workers, 1); i++ {
		g.Go(func() error {
			for tile := range tileChannel {
				written, err := p.executeTile(ctx, tile, writer)
				if err != nil {
					return err
				}
				tileCount.Add(1)
				if written {
					writtenCount.Add(1)
				} else {
					emptyCount.Add(1)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	stats := Stats{Tiles: tileCount.Load(), Written: writtenCount.Load(), Empty: emptyCount.Load()}
	p.logger.Info("processed tiles",
		zap.Uint64("tiles", stats.Tiles), zap.Uint64("written", stats.Written), zap.Uint64("empty", stats.Empty))
	return stats, err
}

func (p *Process) executeTile(ctx context.Context, tile pyramid.Tile, writer Writer) (bool, error) {
	bt, err := p.pyramid.Buffered(tile, p.pixelBuffer)
	if err != nil {
		return false, err
	}
	data, err := p.f(ctx, bt)
	if err != nil {
		return false, fmt.Errorf("could not process tile %v: %w", tile, err)
	}
	features, err := feature.Collect(data)
	if err != nil {
		return false, fmt.Errorf("could not process tile %v: %w", tile, err)
	}
	if len(features) == 0 {
		p.logger.Debug("empty process tile", zap.Stringer("tile", tile))
		return false, nil
	}
	if err := writer.Write(ctx, bt, features); err != nil {
		return false, err
	}
	return true, nil
}

// Passthrough returns a Func selecting the features overlapping the buffered extent of each tile.
func Passthrough(features feature.Batch) Func {
	return func(_ context.Context, tile pyramid.BufferedTile) (interface{}, error) {
		return features.Intersecting(tile.Extent), nil
	}
}
