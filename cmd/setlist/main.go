// Command setlist loads archive documents into a backend and inspects the
// stored hierarchy.
//
// Usage:
//
//	setlist [flags] import <file.yaml>
//	setlist [flags] tree
//	setlist [flags] counts
//	setlist [flags] delete <type> <key>
//
// The backend is chosen with -backend: memory, sqlite, postgres or dynamodb.
// DynamoDB credentials and region come from the usual AWS environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/setlist/archive"
	"github.com/jacentio/setlist/entity"
	"github.com/jacentio/setlist/metrics"
	"github.com/jacentio/setlist/store"
	"github.com/jacentio/setlist/store/memstore"
	"github.com/jacentio/setlist/store/sqlstore"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "setlist: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	backend     string
	dsn         string
	table       string
	entityTable string
	relTable    string
	uniqueTable string
	shards      int
	metricsFile string
}

func mainImpl() error {
	var opts options
	flag.StringVar(&opts.backend, "backend", "sqlite", "Backend (memory, sqlite, postgres, dynamodb)")
	flag.StringVar(&opts.dsn, "dsn", "", "Database file or connection string for sqlite and postgres")
	flag.StringVar(&opts.table, "table", "", "SQL entity table")
	flag.StringVar(&opts.entityTable, "entity-table", "", "DynamoDB entity table")
	flag.StringVar(&opts.relTable, "relationship-table", "", "DynamoDB relationship table")
	flag.StringVar(&opts.uniqueTable, "unique-table", "", "DynamoDB unique constraint table")
	flag.IntVar(&opts.shards, "shards", 1, "DynamoDB relationship shards")
	flag.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	logger := initLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	g, err := archive.NewGraph(entity.WithLogger(logger), entity.WithObserver(collector))
	if err != nil {
		return err
	}

	backend, closeBackend, err := openBackend(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			slog.Warn("failed to close backend", "error", err)
		}
	}()

	start := time.Now()
	if err := g.Load(ctx, backend); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	slog.Debug("graph loaded", "entities", g.Len(), "elapsed", time.Since(start))

	err = run(ctx, g, backend, args, os.Stdout)
	if opts.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(opts.metricsFile, reg); werr != nil {
			slog.Warn("failed to write metrics", "path", opts.metricsFile, "error", werr)
		}
	}
	return err
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: setlist [flags] import <file> | tree | counts | delete <type> <key>\n\n")
	flag.PrintDefaults()
}

// initLogger returns a tint logger on stderr. Colour is disabled when stderr
// is not a terminal.
func initLogger(level string) *slog.Logger {
	ll := &slog.LevelVar{}
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		ll.Set(slog.LevelInfo)
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func openBackend(ctx context.Context, opts options, logger *slog.Logger) (entity.Backend, func() error, error) {
	noop := func() error { return nil }
	switch opts.backend {
	case "memory":
		return memstore.New(), noop, nil
	case "sqlite", "postgres":
		cfg := sqlstore.DefaultConfig()
		if opts.backend == "postgres" {
			cfg.Driver = sqlstore.DriverPostgres
			cfg.DSN = ""
		}
		if opts.dsn != "" {
			cfg.DSN = opts.dsn
		}
		if opts.table != "" {
			cfg.Table = opts.table
		}
		cfg.Logger = logger
		s, err := sqlstore.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "dynamodb":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg := store.DefaultConfig()
		if opts.entityTable != "" {
			cfg.EntityTable = opts.entityTable
		}
		if opts.relTable != "" {
			cfg.RelationshipTable = opts.relTable
		}
		if opts.uniqueTable != "" {
			cfg.UniqueTable = opts.uniqueTable
		}
		cfg.NumShards = opts.shards
		cfg.Logger = logger
		return store.New(dynamodb.NewFromConfig(awsCfg), archive.NewSchema(), cfg), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
}

func run(ctx context.Context, g *entity.Graph, backend entity.Backend, args []string, out io.Writer) error {
	switch cmd := args[0]; cmd {
	case "import":
		if len(args) != 2 {
			return errors.New("import: expected one file")
		}
		f, err := archive.LoadFixtureFile(args[1])
		if err != nil {
			return err
		}
		before := g.Len()
		if err := archive.Import(ctx, g, backend, f); err != nil {
			return fmt.Errorf("import %s: %w", args[1], err)
		}
		slog.Info("imported", "file", args[1], "entities", g.Len(), "added", g.Len()-before)
		return nil
	case "tree":
		return archive.WriteTree(out, g)
	case "counts":
		counts, total := archive.Counts(g)
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "%-12s %d\n", t, counts[entity.Type(t)])
		}
		fmt.Fprintf(out, "%-12s %d\n", "total", total)
		return nil
	case "delete":
		if len(args) != 3 {
			return errors.New("delete: expected a type and a key")
		}
		return deleteRoot(ctx, g, backend, entity.Type(args[1]), args[2])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// deleteRoot unpersists the root entity of type t with the given key.
func deleteRoot(ctx context.Context, g *entity.Graph, backend entity.Backend, t entity.Type, key string) error {
	if _, ok := g.Schema().TypeSpec(t); !ok {
		return fmt.Errorf("unknown type %q", t)
	}
	return g.Update(ctx, backend, func(s *entity.Session) error {
		m, ok, err := entity.FindByKey(ctx, s, t, entity.NewKey(key, nil))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %q: %w", t, key, entity.ErrNotFound)
		}
		if err := s.Unpersist(ctx, m); err != nil {
			return err
		}
		slog.Info("deleted", "type", t, "key", key)
		return nil
	})
}
