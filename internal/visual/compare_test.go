package visual_test

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/reference"
	"gpu-conformance/internal/storage"
	"gpu-conformance/internal/visual"

	"github.com/google/go-cmp/cmp"
)

func solid(t *testing.T, width, height uint32, rgba [4]byte) *capture.Image {
	t.Helper()
	pixels := make([]byte, 0, width*height*4)
	for i := uint32(0); i < width*height; i++ {
		pixels = append(pixels, rgba[:]...)
	}
	img, err := capture.NewImage(width, height, pixels)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

var (
	red   = [4]byte{255, 0, 0, 255}
	green = [4]byte{0, 255, 0, 255}
)

type fixture struct {
	comparator *visual.Comparator
	store      *reference.Store
	refDir     string
	config     visual.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	s, err := storage.NewFileStorage(context.Background(), storage.FileConfig{Directory: root})
	if err != nil {
		t.Fatal(err)
	}
	store, err := reference.New(s, reference.Options{Root: "reference"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := visual.Config{
		Threshold:     visual.DefaultThreshold,
		DiffOutputDir: filepath.Join(root, "output"),
	}
	return fixture{
		comparator: visual.NewComparator(store),
		store:      store,
		refDir:     filepath.Join(root, "reference"),
		config:     cfg,
	}
}

func TestCompare_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	baseline := f.config
	baseline.UpdateBaseline = true
	got, err := f.comparator.Compare(ctx, solid(t, 2, 2, red), "clear_red", baseline)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&visual.Result{IsMatch: true}, got); diff != "" {
		t.Errorf("baseline result (-want +got):\n%s", diff)
	}

	file, err := os.Open(filepath.Join(f.refDir, "clear_red.png"))
	if err != nil {
		t.Fatalf("reference not written: %v", err)
	}
	defer file.Close()
	written, err := png.Decode(file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(solid(t, 2, 2, red), capture.FromImage(written)); diff != "" {
		t.Errorf("reference content (-want +got):\n%s", diff)
	}

	got, err = f.comparator.Compare(ctx, solid(t, 2, 2, green), "clear_red", f.config)
	if err != nil {
		t.Fatal(err)
	}
	want := &visual.Result{
		IsMatch:       false,
		Difference:    0.5,
		DiffImagePath: filepath.Join(f.config.DiffOutputDir, "clear_red_diff.png"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch result (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(want.DiffImagePath); err != nil {
		t.Errorf("diff artifact not written: %v", err)
	}
}

func TestCompare_Identity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	img := solid(t, 16, 9, [4]byte{12, 34, 56, 255})
	if _, err := f.store.Save(ctx, "identity", img); err != nil {
		t.Fatal(err)
	}

	cfg := f.config
	cfg.Threshold = 0
	got, err := f.comparator.Compare(ctx, img, "identity", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&visual.Result{IsMatch: true}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := os.Stat(f.config.DiffOutputDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no artifact may be written on match, stat = %v", err)
	}
}

func TestCompare_UpdateBaselineKeepsExistingReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Save(ctx, "keep", solid(t, 2, 2, red)); err != nil {
		t.Fatal(err)
	}

	cfg := f.config
	cfg.UpdateBaseline = true
	got, err := f.comparator.Compare(ctx, solid(t, 2, 2, green), "keep", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsMatch {
		t.Error("an existing reference must still be compared in baseline mode")
	}

	stored, err := f.store.Load(ctx, "keep")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(solid(t, 2, 2, red), stored); diff != "" {
		t.Errorf("reference changed (-want +got):\n%s", diff)
	}
}

func TestCompare_BaselineRoundTrip(t *testing.T) {
	t.Parallel()

	translucent, err := capture.NewImage(2, 1, []byte{200, 100, 50, 128, 10, 20, 30, 0})
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []reference.Format{reference.FormatPNG, reference.FormatBMP} {
		format := format
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			s, err := storage.NewFileStorage(context.Background(), storage.FileConfig{Directory: root})
			if err != nil {
				t.Fatal(err)
			}
			store, err := reference.New(s, reference.Options{Root: "reference", Format: format})
			if err != nil {
				t.Fatal(err)
			}
			comparator := visual.NewComparator(store)
			cfg := visual.Config{Threshold: 0, DiffOutputDir: filepath.Join(root, "output"), UpdateBaseline: true}

			created, err := comparator.Compare(context.Background(), translucent, "blend", cfg)
			if format == reference.FormatBMP {
				// A baseline that cannot reproduce the capture is refused.
				if !errors.Is(err, reference.ErrAlphaUnsupported) {
					t.Fatalf("want ErrAlphaUnsupported, got %v", err)
				}
				var ioErr *visual.IOError
				if !errors.As(err, &ioErr) || ioErr.Op != "save reference" {
					t.Errorf("want a save reference IOError, got %#v", err)
				}
				return
			}
			if err != nil || !created.IsMatch {
				t.Fatalf("baseline creation: %+v, %v", created, err)
			}

			cfg.UpdateBaseline = false
			got, err := comparator.Compare(context.Background(), translucent, "blend", cfg)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(&visual.Result{IsMatch: true}, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompare_ReferenceNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.comparator.Compare(context.Background(), solid(t, 2, 2, red), "absent", f.config)
	if !errors.Is(err, visual.ErrReferenceNotFound) {
		t.Fatalf("want ErrReferenceNotFound, got %v", err)
	}
	var notFound *visual.ReferenceNotFoundError
	if !errors.As(err, &notFound) || notFound.TestName != "absent" {
		t.Errorf("unexpected error %#v", err)
	}
	if _, statErr := os.Stat(filepath.Join(f.refDir, "absent.png")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("a reference must not be created outside baseline mode")
	}
}

func TestCompare_DimensionMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Save(ctx, "sized", solid(t, 4, 4, red)); err != nil {
		t.Fatal(err)
	}

	_, err := f.comparator.Compare(ctx, solid(t, 4, 3, red), "sized", f.config)
	var mismatch *visual.DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("want DimensionMismatchError, got %v", err)
	}
	want := &visual.DimensionMismatchError{
		Expected: visual.Size{Width: 4, Height: 4},
		Actual:   visual.Size{Width: 4, Height: 3},
	}
	if diff := cmp.Diff(want, mismatch); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if !errors.Is(err, visual.ErrDimensionMismatch) {
		t.Error("want errors.Is ErrDimensionMismatch")
	}
}

func TestCompare_CorruptReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := os.MkdirAll(f.refDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.refDir, "corrupt.png"), []byte{0x89, 'P', 'N', 'G'}, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := f.comparator.Compare(context.Background(), solid(t, 1, 1, red), "corrupt", f.config)
	var ioErr *visual.IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "decode reference" {
		t.Errorf("want decode IOError, got %v", err)
	}
}

func TestCompareImages_ThresholdMonotonicity(t *testing.T) {
	t.Parallel()

	comparator := visual.NewComparator(nil)
	ctx := context.Background()
	left := solid(t, 4, 4, red)
	right := solid(t, 4, 4, green)

	tests := []struct {
		name      string
		threshold float64
		want      bool
	}{
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), 0, false},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), 0.49, false},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), 0.5, true},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), 0.51, true},
		{func() string { _, _, line, _ := runtime.Caller(0); return fmt.Sprintf("L%d", line) }(), 1, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := visual.Config{Threshold: tt.threshold, DiffOutputDir: t.TempDir()}
			got, err := comparator.CompareImages(ctx, left, right, "red_vs_green", cfg)
			if err != nil {
				t.Fatal(err)
			}
			if got.IsMatch != tt.want {
				t.Errorf("threshold %v: IsMatch = %v, want %v", tt.threshold, got.IsMatch, tt.want)
			}
			if got.Difference != 0.5 {
				t.Errorf("Difference = %v, want 0.5", got.Difference)
			}
			if (got.DiffImagePath == "") != got.IsMatch {
				t.Errorf("DiffImagePath = %q with IsMatch = %v", got.DiffImagePath, got.IsMatch)
			}
		})
	}
}

func TestCompareImages_SaveActualAndRectangleStyle(t *testing.T) {
	t.Parallel()

	comparator := visual.NewComparator(nil)
	left := solid(t, 32, 32, red)
	right := solid(t, 32, 32, red)
	copy(right.Pixels[(5*32+5)*4:], green[:])

	cfg := visual.Config{
		Threshold:     0,
		DiffOutputDir: t.TempDir(),
		SaveActual:    true,
		DiffStyle:     "rectangle",
	}
	got, err := comparator.CompareImages(context.Background(), left, right, "single_pixel", cfg)
	if err != nil {
		t.Fatal(err)
	}

	if got.ActualImagePath != filepath.Join(cfg.DiffOutputDir, "single_pixel.png") {
		t.Errorf("ActualImagePath = %q", got.ActualImagePath)
	}
	if len(got.Regions) != 1 {
		t.Errorf("Regions = %v, want one region", got.Regions)
	}
	for _, p := range []string{got.ActualImagePath, got.DiffImagePath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact %s: %v", p, err)
		}
	}
}

func TestCompareImages_InvalidConfig(t *testing.T) {
	t.Parallel()

	comparator := visual.NewComparator(nil)
	img := solid(t, 1, 1, red)

	if _, err := comparator.CompareImages(context.Background(), img, img, "x", visual.Config{Threshold: -1}); err == nil {
		t.Error("want error for a negative threshold")
	}
	if _, err := comparator.CompareImages(context.Background(), img, img, "x", visual.Config{DiffStyle: "ssim"}); err == nil {
		t.Error("want error for an unknown diff style")
	}
	if _, err := comparator.CompareImages(context.Background(), img, img, "../x", visual.Config{}); !errors.Is(err, reference.ErrInvalidName) {
		t.Errorf("want ErrInvalidName, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv(visual.UpdateReferencesEnv, "1")

	cfg := visual.DefaultConfig()
	if cfg.Threshold != 0.01 || !cfg.UpdateBaseline || cfg.DiffOutputDir != "tests/visual_regression/output" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}
