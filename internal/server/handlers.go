package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/conformance"
	"gpu-conformance/internal/myhttp"
	"gpu-conformance/internal/reference"
	"gpu-conformance/internal/report"
	"gpu-conformance/internal/visual"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

const (
	maxUploadBytes   = 32 << 20
	maxOutcomesBytes = 1 << 20
)

type handlers struct {
	deps          Deps
	outcomesTotal metric.Int64Counter
	sequence      atomic.Uint64
}

type CompareResponse struct {
	IsMatch    bool    `json:"isMatch"`
	Difference float64 `json:"difference"`
	DiffData   string  `json:"diffData,omitempty"`
}

type OutcomesResponse struct {
	Recorded int `json:"recorded"`
}

func (h *handlers) handleCompare(w http.ResponseWriter, r *http.Request) {
	logger := myhttp.Logger(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cfg := visual.Config{
		Threshold: h.deps.Threshold,
		// Every request gets its own artifact directory.
		DiffOutputDir: path.Join(h.deps.DiffOutputDir, strconv.FormatUint(h.sequence.Add(1), 10)),
	}
	if v := r.FormValue("threshold"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		cfg.Threshold = threshold
	}

	captured, err := formImage(r, "captured")
	if err != nil {
		logger.Debug("invalid captured image", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	var expected *capture.Image
	if _, ok := r.MultipartForm.File["reference"]; ok {
		if expected, err = formImage(r, "reference"); err != nil {
			logger.Debug("invalid reference image", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if name == "" {
			name = "upload"
		}
	}

	var result *visual.Result
	myhttp.Label(r.Context(), func(ctx context.Context) {
		logger = myhttp.Logger(ctx)
		if expected != nil {
			result, err = h.deps.Comparator.CompareImages(ctx, expected, captured, name, cfg)
			return
		}
		result, err = h.deps.Comparator.Compare(ctx, captured, name, cfg)
	}, "test", name, "mode", compareMode(expected))
	if err != nil {
		status := compareStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error("failed to compare images", "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	response := CompareResponse{
		IsMatch:    result.IsMatch,
		Difference: result.Difference,
	}
	if result.DiffImagePath != "" && h.deps.Artifacts != nil {
		data, err := h.deps.Artifacts.Get(r.Context(), result.DiffImagePath)
		if err != nil {
			logger.Error("failed to read diff artifact", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		response.DiffData = base64.StdEncoding.EncodeToString(data)
	}

	writeJSON(w, logger, http.StatusOK, response)
}

// compareMode names the comparison source of a request: a stored baseline or
// an uploaded reference.
func compareMode(expected *capture.Image) string {
	if expected != nil {
		return "upload"
	}
	return "baseline"
}

func compareStatus(err error) int {
	switch {
	case errors.Is(err, reference.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, visual.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, visual.ErrDimensionMismatch):
		return http.StatusConflict
	default:
		var ioErr *visual.IOError
		if errors.As(err, &ioErr) {
			return http.StatusInternalServerError
		}
		// Remaining errors come from request parameters.
		return http.StatusBadRequest
	}
}

func formImage(r *http.Request, field string) (*capture.Image, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, xerrors.Errorf("missing %s: %w", field, err)
	}
	defer func(file multipart.File) {
		_ = file.Close()
	}(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", field, err)
	}
	img, err := reference.DecodeImage(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", field, err)
	}
	return capture.FromImage(img), nil
}

func (h *handlers) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	logger := myhttp.Logger(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOutcomesBytes))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	var outcomes []conformance.Outcome
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &outcomes)
	} else {
		var o conformance.Outcome
		err = json.Unmarshal(trimmed, &o)
		outcomes = append(outcomes, o)
	}
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	for _, o := range outcomes {
		if o.Backend == "" || o.TestName == "" {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	myhttp.Label(r.Context(), func(ctx context.Context) {
		for _, o := range outcomes {
			h.deps.Tracker.Record(o)
			h.outcomesTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.Key("backend").String(o.Backend),
				attribute.Key("passed").Bool(o.Passed),
			))
		}
		myhttp.Logger(ctx).Debug("outcomes recorded", slog.Int("count", len(outcomes)))
	}, "backend", outcomeBackends(outcomes))

	writeJSON(w, logger, http.StatusAccepted, OutcomesResponse{Recorded: len(outcomes)})
}

// outcomeBackends lists the distinct backends of a batch in sorted order.
func outcomeBackends(outcomes []conformance.Outcome) string {
	backends := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		backends = append(backends, o.Backend)
	}
	slices.Sort(backends)
	return strings.Join(slices.Compact(backends), ",")
}

func (h *handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, myhttp.Logger(r.Context()), http.StatusOK, h.deps.Tracker.Report())
}

func (h *handlers) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	b := report.NewBuilder(h.deps.ReportTitle, report.Options{})
	b.AddConformanceReport(h.deps.Tracker.Report())

	var buffer bytes.Buffer
	if err := b.Render(&buffer); err != nil {
		myhttp.Logger(r.Context()).Error("failed to render report", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buffer.Bytes())
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
