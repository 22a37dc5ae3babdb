package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"dicomvault/pkg/catalog"
	"dicomvault/pkg/config"
	"dicomvault/pkg/dcm"
)

func main() {
	// Parse command line arguments
	root := flag.String("root", "", "Root directory of the instance catalog")
	configPath := flag.String("config", "dicomvault.yaml", "Configuration file")
	rebuild := flag.Bool("rebuild", false, "Force a full rebuild of the catalog from a directory scan")
	copyFrom := flag.String("copy", "", "Entity to copy (patient[/study[/series]])")
	moveFrom := flag.String("move", "", "Entity to move (patient[/study[/series]])")
	to := flag.String("to", "", "Destination entity for -copy or -move")
	toRoot := flag.String("to-root", "", "Destination root directory (defaults to -root)")
	remove := flag.String("delete", "", "Entity to delete (patient[/study[/series]])")
	flag.Parse()

	// Validate inputs
	if *root == "" {
		flag.Usage()
		os.Exit(1)
	}
	if (*copyFrom != "" || *moveFrom != "") && *to == "" {
		log.Fatal("-copy and -move require -to")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	startTime := time.Now()
	cat, err := catalog.Open(*root, dcm.New(),
		catalog.WithScanWorkers(cfg.Scan.Workers),
		catalog.WithSnapshotCompression(cfg.Snapshot.Compress))
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}

	if *rebuild {
		if err := cat.Rebuild(); err != nil {
			log.Fatalf("Rebuild failed: %v", err)
		}
	}
	for _, w := range cat.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	destRoot := *root
	if *toRoot != "" {
		destRoot = *toRoot
	}

	switch {
	case *copyFrom != "":
		from := parseAddress(*root, *copyFrom)
		if err := cat.Copy(from, parseAddress(destRoot, *to)); err != nil {
			log.Fatalf("Copy failed: %v", err)
		}
	case *moveFrom != "":
		from := parseAddress(*root, *moveFrom)
		if err := cat.Move(from, parseAddress(destRoot, *to)); err != nil {
			log.Fatalf("Move failed: %v", err)
		}
	case *remove != "":
		cat.Delete(parseAddress(*root, *remove))
	}

	if err := cat.Close(); err != nil {
		log.Fatalf("Failed to commit catalog: %v", err)
	}
	fmt.Printf("Done in %.2f seconds\n", time.Since(startTime).Seconds())
}

// parseAddress turns a slash-separated patient/study/series path into an
// entity address under the given root. Each element matches an existing
// entity by name or description, or names a new one to create.
func parseAddress(root, path string) catalog.Address {
	addr := catalog.RootAddress(root)
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		addr = addr.Child(catalog.ByName(part))
	}
	return addr
}
