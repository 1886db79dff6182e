package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pdok/tilevec/output"
	"github.com/pdok/tilevec/pkg/gpkg"
	"github.com/pdok/tilevec/processing"
	"github.com/pdok/tilevec/pyramid"
)

const CONFIG string = `config`
const ZOOM string = `zoom`
const OVERWRITE string = `overwrite`
const WORKERS string = `workers`
const VERBOSE string = `verbose`
const PATH string = `path`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "tilevec"
	app.Usage = "Writes vector features to a tile directory of GeoPackages, one per output tile"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    VERBOSE,
			Aliases: []string{"v"},
			Usage:   "Log debug messages",
			EnvVars: []string{strcase.ToScreamingSnake(VERBOSE)},
		},
	}
	configFlag := &cli.StringFlag{
		Name:     CONFIG,
		Aliases:  []string{"c"},
		Usage:    "Process file (YAML) with input, zoom, pyramid and output",
		Required: true,
		EnvVars:  []string{strcase.ToScreamingSnake(CONFIG)},
	}
	zoomFlag := &cli.UintSliceFlag{
		Name:    ZOOM,
		Aliases: []string{"z"},
		Usage:   "Zoom levels to process instead of those in the process file. E.g.: -z 4 -z 5",
		EnvVars: []string{strcase.ToScreamingSnake(ZOOM)},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "execute",
			Usage: "Process the input into the tile directory",
			Flags: []cli.Flag{
				configFlag,
				zoomFlag,
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Aliases: []string{"o"},
					Usage:   "Overwrite process tiles that have been written already",
					EnvVars: []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
				&cli.IntFlag{
					Name:    WORKERS,
					Aliases: []string{"w"},
					Usage:   "Number of process tiles computed at the same time",
					Value:   4,
					EnvVars: []string{strcase.ToScreamingSnake(WORKERS)},
				},
			},
			Action: func(c *cli.Context) error {
				return withLogger(c, func(logger *zap.Logger) error {
					return execute(c, logger)
				})
			},
		},
		{
			Name:  "exists",
			Usage: "List whether the process tiles of the zoom levels have been written",
			Flags: []cli.Flag{configFlag, zoomFlag},
			Action: func(c *cli.Context) error {
				return withLogger(c, func(logger *zap.Logger) error {
					return exists(c, logger)
				})
			},
		},
		{
			Name:  "info",
			Usage: "Show the metadata of a tile directory",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     PATH,
					Aliases:  []string{"p"},
					Usage:    "Tile directory",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(PATH)},
				},
			},
			Action: func(c *cli.Context) error {
				md, err := output.ReadMetadata(c.String(PATH))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "format:      %s\n", md.Driver.Format)
				fmt.Fprintf(c.App.Writer, "grid:        %s\n", md.Pyramid.Grid)
				fmt.Fprintf(c.App.Writer, "metatiling:  %d\n", md.Pyramid.Metatiling)
				fmt.Fprintf(c.App.Writer, "pixelbuffer: %d\n", md.Pyramid.PixelBuffer)
				if md.Driver.Schema != nil {
					fmt.Fprintf(c.App.Writer, "geometry:    %v\n", md.Driver.Schema["geometry"])
				}
				return nil
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withLogger(c *cli.Context, fn func(*zap.Logger) error) error {
	config := zap.NewProductionConfig()
	if c.Bool(VERBOSE) {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return fn(logger)
}

// job is a process file turned into pyramids, an output driver and the process tiles to compute
type job struct {
	config         output.ProcessConfig
	processPyramid *pyramid.Pyramid
	writer         *output.GPKG
	zooms          []uint
}

func newJob(c *cli.Context, logger *zap.Logger) (*job, error) {
	config, err := output.LoadConfig(c.String(CONFIG))
	if err != nil {
		return nil, err
	}
	processPyramid, err := pyramid.FromEmbedded(config.Pyramid.Grid, config.Pyramid.Metatiling)
	if err != nil {
		return nil, err
	}
	outputMetatiling, err := config.OutputMetatiling()
	if err != nil {
		return nil, err
	}
	outputPyramid, err := pyramid.FromEmbedded(config.Pyramid.Grid, outputMetatiling)
	if err != nil {
		return nil, err
	}
	writer, err := output.NewGPKG(config.Output, outputPyramid, output.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	zooms := []uint(config.Zoom)
	if c.IsSet(ZOOM) {
		zooms = c.UintSlice(ZOOM)
	}
	return &job{config: config, processPyramid: processPyramid, writer: writer, zooms: zooms}, nil
}

func execute(c *cli.Context, logger *zap.Logger) error {
	j, err := newJob(c, logger)
	if err != nil {
		return err
	}
	features, err := gpkg.Decode(j.config.Input)
	if err != nil {
		return err
	}
	extent, err := features.Extent()
	if err != nil {
		return err
	}
	if extent == nil {
		logger.Info("no features in input", zap.String("input", j.config.Input))
		return nil
	}
	if err := writeMetadataIfAbsent(j); err != nil {
		return err
	}

	process := processing.New(j.processPyramid, j.config.Pyramid.PixelBuffer, processing.Passthrough(features),
		processing.WithLogger(logger))
	for _, zoom := range j.zooms {
		tiles := j.processPyramid.TilesFromBounds(*extent, zoom)
		if !c.Bool(OVERWRITE) {
			if tiles, err = skipWritten(c.Context, j, tiles); err != nil {
				return err
			}
		}
		pyramid.SortZOrder(tiles)
		logger.Info("start processing", zap.Uint("zoom", zoom), zap.Int("tiles", len(tiles)))
		stats, err := process.Execute(c.Context, tiles, j.writer, c.Int(WORKERS))
		if err != nil {
			return err
		}
		logger.Info("done processing", zap.Uint("zoom", zoom), zap.Uint64("written", stats.Written))
	}
	return nil
}

func exists(c *cli.Context, logger *zap.Logger) error {
	j, err := newJob(c, logger)
	if err != nil {
		return err
	}
	source, err := gpkg.OpenSource(j.config.Input)
	if err != nil {
		return err
	}
	extent, err := source.Extent()
	if closeErr := source.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	for _, zoom := range j.zooms {
		tiles, err := j.bufferedTiles(j.processPyramid.TilesFromBounds(extent, zoom))
		if err != nil {
			return err
		}
		exist, err := j.writer.TilesExist(c.Context, tiles)
		if err != nil {
			return err
		}
		for _, tile := range tiles {
			fmt.Fprintf(c.App.Writer, "%s\t%t\n", tile.Tile, exist[tile.Tile])
		}
	}
	return nil
}

func (j *job) bufferedTiles(tiles []pyramid.Tile) ([]pyramid.BufferedTile, error) {
	buffered := make([]pyramid.BufferedTile, 0, len(tiles))
	for _, tile := range tiles {
		bt, err := j.processPyramid.Buffered(tile, j.config.Pyramid.PixelBuffer)
		if err != nil {
			return nil, err
		}
		buffered = append(buffered, bt)
	}
	return buffered, nil
}

func skipWritten(ctx context.Context, j *job, tiles []pyramid.Tile) ([]pyramid.Tile, error) {
	buffered, err := j.bufferedTiles(tiles)
	if err != nil {
		return nil, err
	}
	exist, err := j.writer.TilesExist(ctx, buffered)
	if err != nil {
		return nil, err
	}
	todo := tiles[:0]
	for _, tile := range tiles {
		if !exist[tile] {
			todo = append(todo, tile)
		}
	}
	return todo, nil
}

func writeMetadataIfAbsent(j *job) error {
	base := j.writer.Params().Path
	_, err := output.ReadMetadata(base)
	if err == nil || !errors.Is(err, output.ErrNoMetadata) {
		return err
	}
	metatiling, err := j.config.OutputMetatiling()
	if err != nil {
		return err
	}
	schema, _ := j.config.Output["schema"].(output.Mapping)
	md := output.TileDirMetadata{
		Driver: output.DriverMetadata{Format: output.GPKGMetadata.DriverName},
		Pyramid: output.PyramidMetadata{
			Grid:        j.processPyramid.Grid(),
			Metatiling:  metatiling,
			PixelBuffer: j.writer.Params().PixelBuffer,
		},
	}
	if schema != nil {
		md.Driver.Schema = make(map[string]interface{}, schema.Len())
		for p := schema.Oldest(); p != nil; p = p.Next() {
			md.Driver.Schema[p.Key] = p.Value
		}
	}
	return output.WriteMetadata(base, md)
}
