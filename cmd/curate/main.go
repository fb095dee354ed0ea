// Command curate runs the full collision-data curation pipeline: harmonize
// the annual shards, reconstruct dates, flag coordinate quality, join the
// weather series, assemble the configured views, and persist them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"collision/internal/config"
	"collision/internal/metrics"
	"collision/internal/metrics/datadog"
	"collision/internal/pipeline"

	// register all backends with the storage factory; the config selects
	// which one runs.
	_ "collision/internal/storage/all"
)

func main() {
	var (
		cfgPath     string
		summaryPath string
		validate    bool
	)
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.StringVar(&summaryPath, "summary", "", "write the run summary JSON to this path (default: stderr log only)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		return
	}

	ctx := context.Background()

	// Metrics backend: config selects, env decorates.
	switch cfg.Metrics.Backend {
	case "datadog":
		tags := append(datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")), cfg.Metrics.Tags...)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       tags,
			FlushEvery: time.Duration(cfg.Metrics.FlushSeconds) * time.Second,
		})
		if err != nil {
			log.Printf("metrics: datadog init failed: %v; metrics disabled", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}
	case "", "none":
		// nop backend remains
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}

	var logger pipeline.Logger
	if *verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	runner := pipeline.NewDefaultRunner(logger)

	start := time.Now()
	res, err := runner.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	out, err := res.Report.Finish()
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	if summaryPath != "" {
		if err := os.WriteFile(summaryPath, out, 0o644); err != nil {
			log.Fatalf("summary: %v", err)
		}
	}
	log.Printf("run=%s views=%d rows=%d completed in %s",
		cfg.Job, len(res.Views), res.Primary.NumRows(), time.Since(start).Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
