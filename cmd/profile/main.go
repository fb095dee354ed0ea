// Command profile fingerprints the configured annual shards without running
// the pipeline: for every (category, year) it samples a bounded prefix of
// the raw file and prints the inferred header and column types as JSON.
//
// This is the fast way to see how a category's schema drifted across years
// and to bootstrap the renames/exclude sections of a pipeline config before
// a full run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"collision/internal/config"
	"collision/internal/profile"
	"collision/internal/source"
)

func main() {
	var (
		cfgPath  string
		category string
	)
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.StringVar(&category, "category", "", "profile only this category (default: all)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	var fps []profile.Fingerprint
	for _, cat := range cfg.Categories {
		if category != "" && cat.Name != category {
			continue
		}
		for year := cfg.Years.Start; year <= cfg.Years.End; year++ {
			src := source.NewLocal(cat.Path(year))
			fps = append(fps, profile.File(ctx, src, year, cat.Name, cfg.Parser.Options))
		}
	}
	if len(fps) == 0 {
		log.Fatalf("no categories matched %q", category)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fps); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
