package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/pointgo"
	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/blobstore/s3"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/source"
)

func main() {
	app := &cli.App{
		Name:  "pointgo",
		Usage: "index massive point clouds into an octree of chunked objects",
		Commands: []*cli.Command{
			buildCommand(),
			mergeCommand(),
			inferCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// storeFor resolves an output path: s3://bucket/prefix, http(s)://...,
// or a local directory.
func storeFor(ctx context.Context, path string) (blobstore.Store, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		rest := strings.TrimPrefix(path, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		return s3.NewStoreFromEnv(ctx, bucket, prefix)
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return blobstore.NewHTTPStore(path, nil), nil
	default:
		return blobstore.NewLocalStore(path)
	}
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "index input files into an output endpoint",
		ArgsUsage: "[inputs...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: "output endpoint"},
			&cli.Float64SliceFlag{Name: "bounds", Aliases: []string{"b"}, Usage: "xmin,ymin,zmin,xmax,ymax,zmax"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Usage: "insert worker count"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite an existing build"},
			&cli.BoolFlag{Name: "prefix-ids", Aliases: []string{"p"}, Usage: "SHA-prefix chunk object names"},
			&cli.BoolFlag{Name: "no-compress", Aliases: []string{"c"}, Usage: "store chunk payloads raw"},
			&cli.BoolFlag{Name: "absolute", Aliases: []string{"n"}, Usage: "store XYZ as doubles (no delta)"},
			&cli.Float64Flag{Name: "scale", Aliases: []string{"s"}, Usage: "delta scale for integer XYZ"},
			&cli.Uint64Flag{Name: "subset-id", Usage: "1-based subset id"},
			&cli.Uint64Flag{Name: "subset-of", Usage: "total subset count (power of 4)"},
			&cli.IntFlag{Name: "max-files", Aliases: []string{"g"}, Usage: "process at most this many files"},
			&cli.IntFlag{Name: "attr-size", Usage: "attribute bytes per point in .bin inputs"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context

			store, err := storeFor(ctx, c.String("output"))
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			logger := pointgo.NewTextLogger(level)

			var attrs []metadata.DimInfo
			if n := c.Int("attr-size"); n > 0 {
				attrs = append(attrs, metadata.DimInfo{Name: "Extra", Type: metadata.Unsigned, Size: n})
			}
			schema := metadata.XYZSchema(attrs...)

			structure := metadata.DefaultStructure()
			structure.PrefixIDs = c.Bool("prefix-ids")

			opts := []pointgo.Option{
				pointgo.WithSchema(schema),
				pointgo.WithStructure(structure),
				pointgo.WithPaths(c.Args().Slice()...),
				pointgo.WithOpener(source.BinOpener{Schema: schema}),
				pointgo.WithCompression(!c.Bool("no-compress")),
				pointgo.WithForce(c.Bool("force")),
				pointgo.WithLogger(logger),
			}
			if t := c.Int("threads"); t > 0 {
				opts = append(opts, pointgo.WithThreads(t))
			}

			if b := c.Float64Slice("bounds"); len(b) == 6 {
				opts = append(opts, pointgo.WithBounds(metadata.NewBounds(b[0], b[1], b[2], b[3], b[4], b[5])))
			} else if len(b) != 0 {
				return fmt.Errorf("bounds needs 6 values, got %d", len(b))
			} else if c.Args().Len() > 0 {
				// No explicit bounds: infer from the inputs.
				logger.Info("inferring bounds")
				inf, err := pointgo.Infer(ctx, source.BinOpener{Schema: schema}, c.Args().Slice(), true)
				if err != nil {
					return err
				}
				opts = append(opts, pointgo.WithBounds(inf.Bounds))
			}

			if !c.Bool("absolute") && c.IsSet("scale") {
				opts = append(opts, pointgo.WithDelta(metadata.NewDelta(c.Float64("scale"))))
			}

			if c.IsSet("subset-id") != c.IsSet("subset-of") {
				return fmt.Errorf("subset-id and subset-of must be set together")
			}
			if c.IsSet("subset-id") {
				sub, err := metadata.NewSubset(c.Uint64("subset-id"), c.Uint64("subset-of"))
				if err != nil {
					return err
				}
				opts = append(opts, pointgo.WithSubset(sub))
			}

			builder, err := pointgo.NewBuilder(ctx, store, opts...)
			if err != nil {
				return err
			}
			defer builder.Close()

			return builder.Go(ctx, c.Int("max-files"))
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "merge completed subset builds at a path",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("merge takes exactly one path")
			}
			store, err := storeFor(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return pointgo.Merge(c.Context, store, pointgo.NewTextLogger(slog.LevelInfo))
		},
	}
}

func inferCommand() *cli.Command {
	return &cli.Command{
		Name:      "infer",
		Usage:     "pre-scan inputs for bounds and counts without indexing",
		ArgsUsage: "[inputs...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "attr-size", Usage: "attribute bytes per point in .bin inputs"},
		},
		Action: func(c *cli.Context) error {
			var attrs []metadata.DimInfo
			if n := c.Int("attr-size"); n > 0 {
				attrs = append(attrs, metadata.DimInfo{Name: "Extra", Type: metadata.Unsigned, Size: n})
			}
			schema := metadata.XYZSchema(attrs...)

			inf, err := pointgo.Infer(c.Context, source.BinOpener{Schema: schema}, c.Args().Slice(), false)
			if err != nil {
				return err
			}
			fmt.Printf("points: %d\n", inf.NumPoints)
			fmt.Printf("bounds: [%g, %g, %g, %g, %g, %g]\n",
				inf.Bounds.Min.X, inf.Bounds.Min.Y, inf.Bounds.Min.Z,
				inf.Bounds.Max.X, inf.Bounds.Max.Y, inf.Bounds.Max.Z)
			fmt.Printf("dims: %d (%d bytes)\n", len(inf.Schema.Dims), inf.Schema.PointSize())
			return nil
		},
	}
}
