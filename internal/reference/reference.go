// Package reference stores golden images keyed by test name.
package reference

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/storage"

	"golang.org/x/xerrors"
)

const DefaultRoot = "tests/visual_regression/reference"

var (
	ErrNotFound    = errors.New("reference image not found")
	ErrInvalidName = errors.New("invalid test name")
	// ErrAlphaUnsupported is returned by Save when the image has translucent
	// pixels and the store format decodes every pixel as opaque.
	ErrAlphaUnsupported = errors.New("format cannot store translucent pixels")
)

// DecodeError reports a stored reference that exists but cannot be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode reference %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Options struct {
	Root   string
	Format Format
}

// Store maps test names to golden images on a storage backend. Concurrent
// Save calls for the same test name race; the last writer wins.
type Store struct {
	storage storage.Storage
	options Options
	codec   codec
}

func New(s storage.Storage, o Options) (*Store, error) {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.Format == "" {
		o.Format = FormatPNG
	}
	c, err := codecFor(o.Format)
	if err != nil {
		return nil, err
	}

	return &Store{
		storage: s,
		options: o,
		codec:   c,
	}, nil
}

func (s *Store) Format() Format {
	return s.options.Format
}

// Resolve returns the storage key of the golden image for testName.
func (s *Store) Resolve(testName string) string {
	return path.Join(s.options.Root, testName+"."+string(s.options.Format))
}

func (s *Store) Load(ctx context.Context, testName string) (*capture.Image, error) {
	if err := ValidateName(testName); err != nil {
		return nil, err
	}

	key := s.Resolve(testName)
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, xerrors.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, xerrors.Errorf("failed to read reference %s: %w", key, err)
	}

	img, err := s.codec.decode(data)
	if err != nil {
		return nil, &DecodeError{Path: key, Err: err}
	}

	return capture.FromImage(img), nil
}

// Save writes img as the golden image for testName, replacing any existing
// one, and returns its storage location.
func (s *Store) Save(ctx context.Context, testName string, img *capture.Image) (string, error) {
	if err := ValidateName(testName); err != nil {
		return "", err
	}

	if !s.codec.alpha && !opaque(img) {
		return "", xerrors.Errorf("%s as %s: %w", testName, s.options.Format, ErrAlphaUnsupported)
	}

	data, err := s.codec.encode(img.ToNRGBA())
	if err != nil {
		return "", xerrors.Errorf("failed to encode reference %s: %w", testName, err)
	}

	location, err := s.storage.Put(ctx, s.Resolve(testName), data)
	if err != nil {
		return "", xerrors.Errorf("failed to store reference %s: %w", testName, err)
	}

	return location, nil
}

func opaque(img *capture.Image) bool {
	for i := 3; i < len(img.Pixels); i += 4 {
		if img.Pixels[i] != 0xff {
			return false
		}
	}
	return true
}

// ValidateName rejects names that are empty or would escape the reference root.
func ValidateName(testName string) error {
	if testName == "" {
		return xerrors.Errorf("empty name: %w", ErrInvalidName)
	}
	if strings.HasPrefix(testName, "/") || strings.ContainsRune(testName, '\\') {
		return xerrors.Errorf("%q: %w", testName, ErrInvalidName)
	}
	for _, segment := range strings.Split(testName, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return xerrors.Errorf("%q: %w", testName, ErrInvalidName)
		}
	}
	return nil
}
