package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/env"
	"gpu-conformance/internal/logging"
	"gpu-conformance/internal/reference"
	"gpu-conformance/internal/retry"
	"gpu-conformance/internal/storage"
	"gpu-conformance/internal/visual"

	"golang.org/x/xerrors"
)

const (
	exitMatch = iota
	exitMismatch
	exitError
	exitMissingReference
)

type CompareOutput struct {
	TestName        string  `json:"testName"`
	IsMatch         bool    `json:"isMatch"`
	Difference      float64 `json:"difference"`
	DiffImagePath   string  `json:"diffImagePath"`
	ActualImagePath string  `json:"actualImagePath"`
	ReferencePath   string  `json:"referencePath"`
	Updated         bool    `json:"updated,omitempty"`
}

type options struct {
	referencesDir  string
	outputDir      string
	threshold      float64
	storageBackend string
	format         string
	diffStyle      string
	callbackURL    string
	forceUpdate    bool
	saveActual     bool
	debug          bool
}

func main() {
	if err := env.Load(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}

	var o options
	flag.StringVar(&o.referencesDir, "references", env.OrDefault("REFERENCES_DIR", reference.DefaultRoot), "Directory (or S3 prefix) holding reference images")
	flag.StringVar(&o.outputDir, "output", env.OrDefault("DIFF_OUTPUT_DIR", visual.DefaultDiffOutputDir), "Directory (or S3 prefix) for diff artifacts")
	flag.Float64Var(&o.threshold, "threshold", env.OrDefault("THRESHOLD", visual.DefaultThreshold), "Largest difference still reported as a match")
	flag.StringVar(&o.storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&o.format, "format", env.OrDefault("REFERENCE_FORMAT", string(reference.FormatPNG)), "Reference image format (png or bmp)")
	flag.StringVar(&o.diffStyle, "diff-style", env.OrDefault("DIFF_STYLE", "intensity"), "Diff artifact style (intensity or rectangle)")
	flag.StringVar(&o.callbackURL, "callback-url", env.OrDefault("CALLBACK_URL", ""), "Callback URL to send results to")
	flag.BoolVar(&o.forceUpdate, "force-update", false, "Overwrite the reference with the capture")
	flag.BoolVar(&o.saveActual, "save-actual", env.OrDefault("SAVE_ACTUAL", false), "Also write the capture next to the diff artifact")
	flag.BoolVar(&o.debug, "debug", false, "Human readable debug logging")

	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: compare [flags] <captured.png> <test-name>")
		os.Exit(exitError)
	}

	logger, err := logging.New(os.Stderr, o.debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	os.Exit(run(context.Background(), o, args[0], args[1], os.Stdout, logger))
}

func run(ctx context.Context, o options, capturedPath string, testName string, stdout io.Writer, logger *slog.Logger) int {
	output, err := compare(ctx, o, capturedPath, testName, logger)
	if err != nil {
		if errors.Is(err, visual.ErrReferenceNotFound) {
			logger.Warn("reference missing, comparison inconclusive", "error", err)
			return exitMissingReference
		}
		logger.Error("failed to compare", "error", err)
		return exitError
	}

	j, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return exitError
	}

	if o.callbackURL == "" {
		fmt.Fprintln(stdout, string(j))
	} else if err := callback(ctx, o.callbackURL, j); err != nil {
		logger.Error("failed to send callback", "error", err)
		return exitError
	}

	if !output.IsMatch {
		return exitMismatch
	}
	return exitMatch
}

func compare(ctx context.Context, o options, capturedPath string, testName string, logger *slog.Logger) (*CompareOutput, error) {
	format, err := reference.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(capturedPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to read capture: %w", err)
	}
	decoded, err := reference.DecodeImage(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode capture: %w", err)
	}
	captured := capture.FromImage(decoded)

	var store *reference.Store
	var referencePath string
	comparatorOpts := []visual.Option{visual.WithLogger(logger)}
	switch o.storageBackend {
	case "file":
		s, err := storage.NewFileStorage(ctx, storage.FileConfig{
			Directory: o.referencesDir,
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create file storage backend: %w", err)
		}
		if store, err = reference.New(s, reference.Options{Root: ".", Format: format}); err != nil {
			return nil, err
		}
		referencePath = filepath.Join(o.referencesDir, store.Resolve(testName))
	case "s3":
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket: os.Getenv("S3_BUCKET"),
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create S3 storage backend: %w", err)
		}
		if store, err = reference.New(s, reference.Options{Root: o.referencesDir, Format: format}); err != nil {
			return nil, err
		}
		referencePath = store.Resolve(testName)
		comparatorOpts = append(comparatorOpts, visual.WithArtifacts(s))
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", o.storageBackend)
	}

	output := &CompareOutput{
		TestName:      testName,
		ReferencePath: referencePath,
	}

	if o.forceUpdate {
		location, err := store.Save(ctx, testName, captured)
		if err != nil {
			return nil, err
		}
		logger.Info("reference updated", slog.String("test", testName), slog.String("path", location))
		output.IsMatch = true
		output.Updated = true
		return output, nil
	}

	cfg := visual.DefaultConfig()
	cfg.Threshold = o.threshold
	cfg.DiffOutputDir = o.outputDir
	cfg.DiffStyle = o.diffStyle
	cfg.SaveActual = o.saveActual

	result, err := visual.NewComparator(store, comparatorOpts...).Compare(ctx, captured, testName, cfg)
	if err != nil {
		return nil, err
	}

	output.IsMatch = result.IsMatch
	output.Difference = result.Difference
	output.DiffImagePath = result.DiffImagePath
	output.ActualImagePath = result.ActualImagePath
	return output, nil
}

func callback(ctx context.Context, callbackURL string, data []byte) error {
	request, err := http.NewRequestWithContext(ctx, "PATCH", callbackURL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &retry.Transport{
			Base:          http.DefaultTransport,
			RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
			RetryOn:       retry.NewDefaultRetryOn(),
		},
	}

	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return xerrors.Errorf("callback returned %s", response.Status)
	}
	return nil
}
