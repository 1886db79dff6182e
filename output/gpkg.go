package output

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdok/tilevec/feature"
	"github.com/pdok/tilevec/pkg/gpkg"
	"github.com/pdok/tilevec/pyramid"
)

// GPKGMetadata describes the GeoPackage driver.
var GPKGMetadata = Metadata{
	DriverName: "GPKG",
	DataType:   "vector",
	Mode:       ModeReadWrite,
}

var _ Driver = (*GPKG)(nil)

// GPKG writes one GeoPackage per output tile into a tile directory.
type GPKG struct {
	params  Params
	pyramid TilePyramid
	codec   Codec
	logger  *zap.Logger
}

type Option func(*GPKG)

func WithLogger(logger *zap.Logger) Option {
	return func(w *GPKG) {
		w.logger = logger
	}
}

// WithCodec replaces the GeoPackage codec, e.g. to encode tiles differently.
func WithCodec(codec Codec) Option {
	return func(w *GPKG) {
		w.codec = codec
	}
}

// NewGPKG validates the output configuration and creates a writer for the output pyramid.
func NewGPKG(config map[string]interface{}, outputPyramid TilePyramid, opts ...Option) (*GPKG, error) {
	params, err := ParseParams(config)
	if err != nil {
		return nil, err
	}
	w := &GPKG{
		params:  params,
		pyramid: outputPyramid,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.codec == nil {
		w.codec = gpkg.NewCodec(outputPyramid.SRID())
	}
	w.logger.Debug("output is a tile directory", zap.String("path", params.Path))
	return w, nil
}

func (w *GPKG) Metadata() Metadata {
	return GPKGMetadata
}

func (w *GPKG) Params() Params {
	return w.params
}

func (w *GPKG) IsValidWithConfig(config map[string]interface{}) (bool, error) {
	return Validate(config)
}

// Read is not supported, output is read through Open.
func (w *GPKG) Read(outputTile pyramid.Tile) (feature.Batch, error) {
	return nil, fmt.Errorf("GPKG driver cannot read output tile %v: %w", outputTile, ErrNotImplemented)
}

// Write encodes the data of a process tile into every output tile intersecting it.
// Nil or empty data writes nothing. Data is collected once and shared by all output tiles.
// The first failing output tile stops the write; output tiles written before that stay on disk.
func (w *GPKG) Write(ctx context.Context, processTile pyramid.BufferedTile, data interface{}) error {
	if data == nil {
		return nil
	}
	features, err := feature.Collect(data)
	if err != nil {
		return fmt.Errorf("GPKG driver data of process tile %v: %w", processTile.Tile, err)
	}
	if len(features) == 0 {
		w.logger.Debug("no features to write", zap.Stringer("process_tile", processTile.Tile))
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.params.Concurrency)
	for _, tile := range w.pyramid.Intersecting(processTile) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return w.writeTile(tile, features)
		})
	}
	return g.Wait()
}

func (w *GPKG) writeTile(tile pyramid.Tile, features feature.Batch) error {
	path := w.Path(tile)
	if err := w.PreparePath(tile); err != nil {
		return err
	}
	outTile, err := w.pyramid.Buffered(tile, w.params.PixelBuffer)
	if err != nil {
		return err
	}
	w.logger.Debug("write features",
		zap.Stringer("tile", tile), zap.String("path", path), zap.Int("count", len(features)))
	if err := w.codec.Encode(features, w.params.Schema, outTile, path); err != nil {
		return fmt.Errorf("could not write output tile %v to %s: %w", tile, path, err)
	}
	return nil
}

// Path returns <path>/<zoom>/<row>/<col><extension> for an output tile.
func (w *GPKG) Path(tile pyramid.Tile) string {
	return TilePath(w.params.Path, tile, w.params.Extension)
}

// PreparePath creates the directory of the output tile, if it does not exist yet.
func (w *GPKG) PreparePath(tile pyramid.Tile) error {
	dir := filepath.Dir(w.Path(tile))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}
	return nil
}

// Empty returns a batch without features for any tile.
func (w *GPKG) Empty(_ *pyramid.BufferedTile) feature.Batch {
	return feature.Batch{}
}

// ForWeb collects the data and pairs it with its content type.
func (w *GPKG) ForWeb(data interface{}) (feature.Batch, string, error) {
	features, err := feature.Collect(data)
	if err != nil {
		return nil, "", err
	}
	return features, ContentTypeJSON, nil
}

// Open returns an input tile reading the output of process for tile.
func (w *GPKG) Open(tile pyramid.Tile, process Process) InputTile {
	return NewInputView(tile, process)
}

// TilesExist reports for each process tile whether any of its output tiles has been written.
func (w *GPKG) TilesExist(ctx context.Context, processTiles []pyramid.BufferedTile) (map[pyramid.Tile]bool, error) {
	exist := make(map[pyramid.Tile]bool, len(processTiles))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.params.Concurrency, 4))
	for _, processTile := range processTiles {
		g.Go(func() error {
			found := false
			for _, tile := range w.pyramid.Intersecting(processTile) {
				if err := ctx.Err(); err != nil {
					return err
				}
				ok, err := fileExists(w.Path(tile))
				if err != nil {
					return err
				}
				if ok {
					found = true
					break
				}
			}
			mu.Lock()
			exist[processTile.Tile] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return exist, nil
}

// TilePath derives the path of a tile in a tile directory, <base>/<zoom>/<row>/<col><extension>.
func TilePath(base string, tile pyramid.Tile, extension string) string {
	return filepath.Join(base,
		strconv.FormatUint(uint64(tile.Zoom), 10),
		strconv.FormatUint(uint64(tile.Row), 10),
		strconv.FormatUint(uint64(tile.Col), 10)+extension)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
