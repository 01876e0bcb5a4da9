// Command gdem-tileset builds a geographic (EPSG:4326) tile pyramid of
// elevation imagery from a set of GDEM source rasters. Flags and overall
// flow follow the original program's main.cpp, restructured around the
// standard flag package (matching the teacher's cmd/geotiff2pmtiles/main.go
// style) in place of a custom Arguments parser.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/fling-gdet/gdem-tileset/internal/cliutil"
	"github.com/fling-gdet/gdem-tileset/internal/coord"
	"github.com/fling-gdet/gdem-tileset/internal/elevation"
	"github.com/fling-gdet/gdem-tileset/internal/pyramid"
	"github.com/fling-gdet/gdem-tileset/internal/raster"
	"github.com/fling-gdet/gdem-tileset/internal/report"
	"github.com/fling-gdet/gdem-tileset/internal/sourceindex"
	"github.com/fling-gdet/gdem-tileset/internal/taskpool"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		outDir      string
		maxLOD      int
		tileSize    int
		outFormat   string
		outType     string
		noTileset   bool
		noLog       bool
		useMercator bool
		showVersion bool
		cpuProfile  string
		memProfile  string
	)

	flag.StringVar(&outDir, "outdir", "", "Output directory (default: <source>/../<basename>_tileset)")
	flag.StringVar(&outDir, "o", "", "Shorthand for --outdir")
	flag.IntVar(&maxLOD, "max_lod", -1, "Max LOD of the tileset; -1 uses the computed max LOD from source resolution and tile_size")
	flag.IntVar(&tileSize, "tile_size", 256, "Output tile pixel size")
	flag.StringVar(&outFormat, "out_format", "grey", "Output image format: grey")
	flag.StringVar(&outType, "out_type", "png", "Output image type: png, tif")
	flag.BoolVar(&noTileset, "no_tileset", false, "Skip the base-level tileset pass")
	flag.BoolVar(&noLog, "no_log", false, "Do not write log output to a file")
	flag.BoolVar(&useMercator, "mercator", false, "Reserved: mercator-projected tileset (not implemented; geographic quadtree only)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	var showHelp bool
	flag.BoolVar(&showHelp, "help", false, "Display help information")
	flag.BoolVar(&showHelp, "h", false, "Shorthand for --help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gdem-tileset <source...> -o <outdir>\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("gdem-tileset %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("Creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				log.Fatalf("Creating memory profile: %v", err)
			}
			defer f.Close()
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatalf("Writing memory profile: %v", err)
			}
		}()
	}

	sources := flag.Args()
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "gdem-tileset <source...> -o <outdir>")
		fmt.Fprintln(os.Stderr, "\nFor a list of options, use --help or -h")
		os.Exit(1)
	}
	for _, src := range sources {
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			os.Exit(123)
		}
	}

	if outDir == "" {
		suggested, err := cliutil.SuggestOutDir(sources[0])
		if err != nil {
			if errors.Is(err, cliutil.ErrSourceNotFound) {
				os.Exit(123)
			}
			log.Fatalf("Resolving default output directory: %v", err)
		}
		outDir = suggested
	}
	absOutDir, err := filepath.Abs(outDir)
	if err != nil {
		log.Fatalf("Resolving output directory: %v", err)
	}
	outDir = absOutDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("Creating output directory: %v", err)
	}

	if !noLog {
		logFile, err := os.Create(filepath.Join(outDir, "log.txt"))
		if err != nil {
			log.Fatalf("Creating log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}

	if outFormat != "grey" {
		log.Fatalf("unsupported out_format %q, only \"grey\" is supported", outFormat)
	}
	var kind raster.Kind
	switch outType {
	case "png":
		kind = raster.PngU16
	case "tif":
		kind = raster.TiffI16
	default:
		log.Fatalf("unsupported out_type %q, [png, tif] supported", outType)
	}

	computedMaxLOD := coord.AutoMaxLOD(tileSize)
	if maxLOD < 0 || maxLOD > computedMaxLOD {
		maxLOD = computedMaxLOD
	}

	printSettings(sources, outDir, outType, tileSize, maxLOD, computedMaxLOD, noTileset, useMercator)

	state := report.NewState(3)
	monitor := report.StartMonitor(state, 1*time.Second)
	defer monitor.Stop()

	state.BeginPass("init", 1, 0)
	log.Println("=======================================")
	log.Println("=== init source index                   ")
	log.Println("=======================================")
	tStart := time.Now()
	idx, err := sourceindex.Build(sources, func(path, reason string) {
		log.Printf("WARNING: %s: %s", path, reason)
	})
	if err != nil {
		log.Fatalf("Building source index: %v", err)
	}
	log.Printf("indexed %d source cell(s) in %v", idx.Len(), time.Since(tStart).Round(time.Millisecond))

	svc := elevation.NewService(idx, 0)
	builder := pyramid.NewBuilder(svc, idx, outDir, tileSize, kind, outType)

	numWorkers := runtime.NumCPU() * 2

	if !noTileset {
		runBasePass(builder, svc, state, numWorkers, maxLOD)
	}
	runLodPass(builder, svc, state, numWorkers, maxLOD)

	if err := builder.WriteNullTile(); err != nil {
		log.Printf("writing null tile: %v", err)
	}

	log.Println()
	log.Println("=======================================")
	log.Println("=== STATS                              ")
	log.Println("=======================================")
	log.Printf("output location: %s", outDir)
	if size, err := dirSize(outDir); err == nil {
		log.Printf("output size: %s", cliutil.HumanSize(size))
	}
}

// dirSize sums the size of every regular file under root, for the final
// stats line's human-readable output-size report.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// printSettings prints the settings summary before work starts, matching
// the teacher's own pre-run settings block in cmd/geotiff2pmtiles/main.go.
func printSettings(sources []string, outDir, outType string, tileSize, maxLOD, autoMaxLOD int, noTileset, useMercator bool) {
	fmt.Printf("gdem-tileset %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Format:", outType)
	fmt.Printf("  %-14s %dpx\n", "Tile size:", tileSize)
	fmt.Printf("  %-14s %d (auto-max: %d)\n", "Max LOD:", maxLOD, autoMaxLOD)
	fmt.Printf("  %-14s %d source(s)\n", "Input:", len(sources))
	fmt.Printf("  %-14s %s\n", "Output:", outDir)
	if noTileset {
		fmt.Printf("  %-14s skipped (--no_tileset)\n", "Base pass:")
	}
	if useMercator {
		fmt.Printf("  %-14s flag set but unused (geographic quadtree only)\n", "Mercator:")
	}
}

func tilesAtLOD(lod int) int64 {
	total := int64(2)
	for z := 1; z <= lod; z++ {
		total *= 4
	}
	return total
}

func runBasePass(builder *pyramid.Builder, svc *elevation.Service, state *report.State, numWorkers, maxLOD int) {
	log.Println()
	log.Println("=======================================")
	log.Println("=== tileset                            ")
	log.Println("=======================================")

	total := tilesAtLOD(maxLOD)
	state.BeginPass("tileset", 2, total)

	pool := taskpool.New(numWorkers, 10000)
	builder.RunBasePass(pool, maxLOD, func(delta int) {
		state.AddProcessed(int64(delta))
		state.SetCacheSize(int64(svc.CacheLen()))
	})
	pool.WaitTillEmpty()
	pool.Close()
}

func runLodPass(builder *pyramid.Builder, svc *elevation.Service, state *report.State, numWorkers, maxLOD int) {
	log.Println()
	log.Println("=======================================")
	log.Println("=== makelod                            ")
	log.Println("=======================================")

	var total int64 = 2
	sub := int64(2)
	for z := 1; z <= maxLOD-1; z++ {
		sub *= 4
		total += sub
	}
	state.BeginPass("makelod", 3, total)

	pool := taskpool.New(numWorkers, 100)
	for z := maxLOD - 1; z >= 0; z-- {
		pool.WaitTillEmpty()
		time.Sleep(pyramid.SettleDelay)

		builder.RunLevelPass(pool, z, func(delta int) {
			state.AddProcessed(int64(delta))
			state.SetCacheSize(int64(svc.CacheLen()))
		})
	}
	pool.WaitTillEmpty()
	pool.Close()
}
