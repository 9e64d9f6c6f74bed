package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"github.com/sushant-115/gojospatial/core/indexmanager"
	"github.com/sushant-115/gojospatial/pkg/logger"
	"github.com/sushant-115/gojospatial/pkg/telemetry"
)

func main() {
	var (
		filePath    = flag.String("file", "", "database file path (empty for an in-memory index)")
		maxEntries  = flag.Int("max-entries", spatial.DefaultMaxNodeEntries, "maximum entries per node")
		minEntries  = flag.Int("min-entries", spatial.DefaultMinNodeEntries, "minimum entries per non-root node")
		poolSize    = flag.Int("pool-size", spatial.DefaultPoolSize, "buffer pool size (file backend only)")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		metricsPort = flag.Int("metrics-port", 0, "port for the prometheus /metrics endpoint (0 disables)")
	)
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort != 0,
		ServiceName:    "gojospatial_cli",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer telShutdown(context.Background())

	cfg := spatial.Config{
		MinNodeEntries: *minEntries,
		MaxNodeEntries: *maxEntries,
		Dimensions:     2,
	}

	var store spatial.NodeStore
	if *filePath != "" {
		paged, err := spatial.NewPagedStore(*filePath, *poolSize, cfg.MaxNodeEntries, cfg.Dimensions, log)
		if err != nil {
			log.Fatal("failed to open paged store", zap.Error(err))
		}
		store = paged
	} else {
		store = spatial.NewMemoryStore()
	}

	tree, err := spatial.Open(store, cfg, log)
	if err != nil {
		log.Fatal("failed to open r-tree", zap.Error(err))
	}
	mgr, err := indexmanager.NewSpatialIndexManager(tree, log, tel.Meter)
	if err != nil {
		log.Fatal("failed to create index manager", zap.Error(err))
	}

	fmt.Println("gojospatial interactive shell. Type 'help' for commands.")
	runREPL(mgr)
}

func runREPL(mgr *indexmanager.SpatialIndexManager) {
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "help":
			printHelp()
		case "add":
			id, rect, err := parseIDRect(fields[1:])
			if err != nil {
				fmt.Println("usage: add <id> <minx> <miny> <maxx> <maxy> --", err)
				continue
			}
			if err := mgr.Insert(ctx, id, rect); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("OK")
		case "delete":
			id, rect, err := parseIDRect(fields[1:])
			if err != nil {
				fmt.Println("usage: delete <id> <minx> <miny> <maxx> <maxy> --", err)
				continue
			}
			found, err := mgr.Delete(ctx, id, rect)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if found {
				fmt.Println("deleted")
			} else {
				fmt.Println("not found")
			}
		case "search", "within":
			rect, err := parseRect(fields[1:])
			if err != nil {
				fmt.Printf("usage: %s <minx> <miny> <maxx> <maxy> -- %v\n", fields[0], err)
				continue
			}
			var entries []spatial.Entry
			if fields[0] == "within" {
				entries, err = mgr.Within(ctx, rect)
			} else {
				entries, err = mgr.Search(ctx, rect)
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printEntries(entries)
		case "nearest":
			if len(fields) < 3 {
				fmt.Println("usage: nearest <x> <y> [maxdist]")
				continue
			}
			coords, err := parseFloats(fields[1:3])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			maxDist := math.Inf(1)
			if len(fields) > 3 {
				if maxDist, err = strconv.ParseFloat(fields[3], 64); err != nil {
					fmt.Println("error:", err)
					continue
				}
			}
			entries, err := mgr.Nearest(ctx, spatial.Point(coords), maxDist)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printEntries(entries)
		case "stats":
			fmt.Printf("size: %d\n", mgr.Size())
			if bounds, ok, err := mgr.Bounds(); err != nil {
				fmt.Println("error:", err)
			} else if ok {
				fmt.Printf("bounds: %v\n", bounds)
			} else {
				fmt.Println("bounds: (empty index)")
			}
		case "check":
			if err := mgr.CheckConsistency(); err != nil {
				fmt.Println("INCONSISTENT:", err)
			} else {
				fmt.Println("consistent")
			}
		case "save":
			if err := mgr.Save(); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("saved")
			}
		case "exit", "quit":
			if err := mgr.Close(); err != nil {
				fmt.Println("error closing index:", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Println("unknown command; type 'help'")
		}
	}
	mgr.Close()
}

func printEntries(entries []spatial.Entry) {
	for _, e := range entries {
		fmt.Printf("%d %v\n", e.ID, e.Rect)
	}
	fmt.Printf("%d result(s)\n", len(entries))
}

func printHelp() {
	fmt.Println(`commands:
  add <id> <minx> <miny> <maxx> <maxy>     insert an entry
  delete <id> <minx> <miny> <maxx> <maxy>  remove an exact entry
  search <minx> <miny> <maxx> <maxy>       entries intersecting the rectangle
  within <minx> <miny> <maxx> <maxy>       entries contained by the rectangle
  nearest <x> <y> [maxdist]                nearest entries to a point
  stats                                    index size and bounds
  check                                    run the consistency checker
  save                                     persist the index header
  exit                                     close the index and quit`)
}

func parseIDRect(fields []string) (int64, spatial.Rect, error) {
	if len(fields) != 5 {
		return 0, spatial.Rect{}, fmt.Errorf("expected 5 arguments, got %d", len(fields))
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, spatial.Rect{}, fmt.Errorf("bad id %q: %w", fields[0], err)
	}
	rect, err := parseRect(fields[1:])
	return id, rect, err
}

func parseRect(fields []string) (spatial.Rect, error) {
	if len(fields) != 4 {
		return spatial.Rect{}, fmt.Errorf("expected 4 coordinates, got %d", len(fields))
	}
	coords, err := parseFloats(fields)
	if err != nil {
		return spatial.Rect{}, err
	}
	return spatial.NewRect([]float64{coords[0], coords[1]}, []float64{coords[2], coords[3]})
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}
