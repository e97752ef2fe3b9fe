package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gpu-conformance/internal/storage"

	"github.com/google/go-cmp/cmp"
)

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewFileStorage(t.Context(), storage.FileConfig{Directory: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("PutGet", func(t *testing.T) {
		location, err := s.Put(t.Context(), "nested/triangle.png", []byte("png"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := filepath.Join(dir, "nested", "triangle.png"); location != want {
			t.Errorf("expected location %q, got %q", want, location)
		}

		byKey, err := s.Get(t.Context(), "nested/triangle.png")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]byte("png"), byKey); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}

		byLocation, err := s.Get(t.Context(), location)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]byte("png"), byLocation); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if _, err := s.Put(t.Context(), "golden.png", []byte("old")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Put(t.Context(), "golden.png", []byte("new")); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(t.Context(), "golden.png")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]byte("new"), got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(t.Context(), "missing.png")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFileStorage_RelativeDirectory(t *testing.T) {
	t.Chdir(t.TempDir())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	s, err := storage.NewFileStorage(t.Context(), storage.FileConfig{Directory: "out"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nested, err := s.Put(t.Context(), "out/x.png", []byte("nested"))
	if err != nil {
		t.Fatal(err)
	}
	top, err := s.Put(t.Context(), "x.png", []byte("top"))
	if err != nil {
		t.Fatal(err)
	}

	want := []string{filepath.Join(cwd, "out", "out", "x.png"), filepath.Join(cwd, "out", "x.png")}
	if diff := cmp.Diff(want, []string{nested, top}); diff != "" {
		t.Errorf("locations (-want +got):\n%s", diff)
	}

	for key, want := range map[string]string{"out/x.png": "nested", "x.png": "top", nested: "nested", top: "top"} {
		got, err := s.Get(t.Context(), key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", key, err)
		}
		if string(got) != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestFileStorage_OutsideDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := storage.NewFileStorage(t.Context(), storage.FileConfig{Directory: filepath.Join(dir, "artifacts")})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.png"), []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{filepath.Join(dir, "secret.png"), "../secret.png", "."} {
		if _, err := s.Get(t.Context(), key); !errors.Is(err, storage.ErrOutsideDirectory) {
			t.Errorf("Get(%q): expected ErrOutsideDirectory, got %v", key, err)
		}
		if _, err := s.Put(t.Context(), key, []byte("x")); !errors.Is(err, storage.ErrOutsideDirectory) {
			t.Errorf("Put(%q): expected ErrOutsideDirectory, got %v", key, err)
		}
	}
}
