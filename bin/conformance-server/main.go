package main

import (
	"context"
	"flag"
	"log"
	"os"

	"gpu-conformance/internal/conformance"
	"gpu-conformance/internal/env"
	"gpu-conformance/internal/logging"
	"gpu-conformance/internal/reference"
	"gpu-conformance/internal/server"
	"gpu-conformance/internal/storage"
	"gpu-conformance/internal/visual"
)

func main() {
	if err := env.Load(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}

	var debug bool
	var storageBackend string
	var referencesDir string
	var outputDir string
	var format string
	var threshold float64
	var expectedBackends stringList
	flag.BoolVar(&debug, "debug", env.OrDefault("DEBUG", false), "Enable pprof endpoints and text logging")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&referencesDir, "references", env.OrDefault("REFERENCES_DIR", reference.DefaultRoot), "Directory (or S3 prefix) holding reference images")
	flag.StringVar(&outputDir, "output", env.OrDefault("DIFF_OUTPUT_DIR", visual.DefaultDiffOutputDir), "Directory (or S3 prefix) for diff artifacts")
	flag.StringVar(&format, "format", env.OrDefault("REFERENCE_FORMAT", string(reference.FormatPNG)), "Reference image format (png or bmp)")
	flag.Float64Var(&threshold, "threshold", env.OrDefault("THRESHOLD", visual.DefaultThreshold), "Default match threshold")
	flag.Var(&expectedBackends, "expected-backend", "Backend every test must run on (repeatable)")

	flag.Parse()

	ctx := context.Background()

	logger, err := logging.New(os.Stderr, debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	var s storage.Storage
	switch storageBackend {
	case "file":
		s, err = storage.NewFileStorage(ctx, storage.FileConfig{
			Directory: ".",
		})
		if err != nil {
			log.Fatalf("failed to create file storage backend: %v", err)
		}
	case "s3":
		s, err = storage.NewS3Storage(ctx, storage.S3Config{
			Bucket: os.Getenv("S3_BUCKET"),
		})
		if err != nil {
			log.Fatalf("failed to create S3 storage backend: %v", err)
		}
	default:
		log.Fatalf("unknown storage backend: %s", storageBackend)
	}

	refFormat, err := reference.ParseFormat(format)
	if err != nil {
		log.Fatalf("invalid reference format: %v", err)
	}
	store, err := reference.New(s, reference.Options{Root: referencesDir, Format: refFormat})
	if err != nil {
		log.Fatalf("failed to create reference store: %v", err)
	}

	srv := server.NewServer(server.Deps{
		Comparator:    visual.NewComparator(store, visual.WithArtifacts(s), visual.WithLogger(logger)),
		Tracker:       conformance.NewTracker(conformance.WithExpectedBackends(expectedBackends...)),
		Artifacts:     s,
		DiffOutputDir: outputDir,
		Threshold:     threshold,
		Logger:        logger,
		Debug:         debug,
	})
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
