package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
	"github.com/dunamismax/pixelconvert/internal/queue"
	"github.com/dunamismax/pixelconvert/internal/ratelimit"
	"github.com/dunamismax/pixelconvert/internal/store"
	"github.com/hibiken/asynq"
)

type fakeQueue struct {
	payloads []queue.ConvertBatchPayload
	err      error
}

func (q *fakeQueue) EnqueueConvertBatch(_ context.Context, payload queue.ConvertBatchPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.BatchID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type denyLimiter struct{}

func (denyLimiter) Take(context.Context, string, int) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Limit: 60, RetryAfter: 2500 * time.Millisecond}, nil
}

type chargeRecorder struct {
	subjects []string
	costs    []int
}

func (c *chargeRecorder) Take(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	c.subjects = append(c.subjects, subject)
	c.costs = append(c.costs, cost)
	return ratelimit.Decision{Allowed: true, Limit: 60, Remaining: 10}, nil
}

type testEnv struct {
	server *Server
	queue  *fakeQueue
	store  *store.MemoryBatchStore
	dir    string
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()

	converter, err := convert.NewConverter(convert.Options{StagingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	q := &fakeQueue{}
	batchStore := store.NewMemoryBatchStore()
	return testEnv{
		server: NewServer(log.New(io.Discard, "", 0), converter, q, batchStore, opts),
		queue:  q,
		store:  batchStore,
		dir:    t.TempDir(),
	}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e testEnv) writePNG(t *testing.T, name string, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 140, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthzAndFormats(t *testing.T) {
	env := newTestEnv(t, Options{})

	if rec := env.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/formats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string][]string](t, rec)
	if len(body["inputs"]) != 14 || len(body["outputs"]) != 10 {
		t.Fatalf("unexpected format lists: %v", body)
	}
}

func TestConvertEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	input := env.writePNG(t, "photo.png", 200, 100)

	rec := env.do(t, http.MethodPost, "/v1/conversions", domain.ConvertRequest{
		InputPath:    input,
		OutputFormat: "jpeg",
		Width:        100,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	result := decodeBody[convert.Result](t, rec)
	if result.Dimensions.Width != 100 || result.Dimensions.Height != 50 {
		t.Fatalf("expected 100x50, got %+v", result.Dimensions)
	}
	if result.OutputPath != filepath.Join(env.dir, "photo_converted.jpeg") {
		t.Fatalf("unexpected output path %s", result.OutputPath)
	}
}

func TestConvertEndpointErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	input := env.writePNG(t, "in.png", 10, 10)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantKind convert.Kind
	}{
		{"malformed json", `{"input_path":`, http.StatusBadRequest, ""},
		{"unknown field", `{"input_path":"a.png","output_format":"png","bogus":1}`, http.StatusBadRequest, ""},
		{"missing input", domain.ConvertRequest{OutputFormat: "png"}, http.StatusBadRequest, convert.KindInvalidRequest},
		{"bad quality", domain.ConvertRequest{InputPath: input, OutputFormat: "jpg", Quality: 150}, http.StatusBadRequest, convert.KindInvalidRequest},
		{"not found", domain.ConvertRequest{InputPath: filepath.Join(env.dir, "nope.png"), OutputFormat: "png"}, http.StatusNotFound, convert.KindInputNotFound},
		{"unsupported output", domain.ConvertRequest{InputPath: input, OutputFormat: "xyz"}, http.StatusUnsupportedMediaType, convert.KindUnsupportedOutputFormat},
		{"bad base64", domain.ConvertRequest{InputData: "%%%", OutputFormat: "png"}, http.StatusBadRequest, convert.KindInputDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/conversions", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d body=%s", tt.wantCode, rec.Code, rec.Body.String())
			}
			body := decodeBody[errorBody](t, rec)
			if body.Kind != tt.wantKind || body.Error == "" {
				t.Fatalf("expected kind %q with message, got %+v", tt.wantKind, body)
			}
		})
	}
}

func TestInfoEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	input := env.writePNG(t, "in.png", 30, 15)

	rec := env.do(t, http.MethodPost, "/v1/images/info", domain.InfoRequest{ImagePath: input})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	info := decodeBody[convert.ImageInfo](t, rec)
	if info.Format != "png" || info.Width != 30 || info.Height != 15 || info.MIMEType != "image/png" {
		t.Fatalf("unexpected info %+v", info)
	}

	rec = env.do(t, http.MethodPost, "/v1/images/info", domain.InfoRequest{ImagePath: filepath.Join(env.dir, "gone.png")})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBatchLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/v1/batches", domain.BatchConvertRequest{
		InputPaths:   []string{"/in/a.png"},
		Inputs:       []domain.BatchInput{{Data: "aGVsbG8=", Filename: "b.png"}},
		OutputFormat: "webp",
		WebhookURL:   "https://hooks.example.com/batches",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	batchID, _ := created["batch_id"].(string)
	if batchID == "" || created["items"] != float64(2) {
		t.Fatalf("unexpected create response %v", created)
	}

	if len(env.queue.payloads) != 1 || env.queue.payloads[0].BatchID != batchID {
		t.Fatalf("expected batch to be enqueued, got %+v", env.queue.payloads)
	}
	if env.queue.payloads[0].Request.Inputs[0].Data == "" {
		t.Fatal("expected queue payload to carry inline data")
	}

	rec = env.do(t, http.MethodGet, "/v1/batches/"+batchID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	job := decodeBody[domain.BatchJob](t, rec)
	if job.Status != domain.BatchStatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}
	if job.Request.Inputs[0].Data != "" {
		t.Fatal("expected status view to omit inline data")
	}

	if rec := env.do(t, http.MethodGet, "/v1/batches/unknown", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBatchRejections(t *testing.T) {
	env := newTestEnv(t, Options{})

	if rec := env.do(t, http.MethodPost, "/v1/batches", domain.BatchConvertRequest{OutputFormat: "png"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/v1/batches", domain.BatchConvertRequest{InputPaths: []string{"a.png"}, OutputFormat: "psd"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 for unsupported output, got %d", rec.Code)
	}
	if len(env.queue.payloads) != 0 {
		t.Fatal("expected nothing to be enqueued")
	}

	env.queue.err = errors.New("redis down")
	rec = env.do(t, http.MethodPost, "/v1/batches", domain.BatchConvertRequest{InputPaths: []string{"a.png"}, OutputFormat: "png"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on enqueue failure, got %d", rec.Code)
	}
}

func TestRateLimitRejectsPosts(t *testing.T) {
	env := newTestEnv(t, Options{RateLimiter: denyLimiter{}})

	rec := env.do(t, http.MethodPost, "/v1/conversions", domain.ConvertRequest{InputPath: "a.png", OutputFormat: "png"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "60" {
		t.Fatalf("expected limit header, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = env.do(t, http.MethodPost, "/v1/batches", domain.BatchConvertRequest{InputPaths: []string{"a.png"}, OutputFormat: "png"})
	if rec.Code != http.StatusTooManyRequests || len(env.queue.payloads) != 0 {
		t.Fatalf("expected limited batch to be rejected before enqueue, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/v1/formats", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected GET routes to bypass the limiter, got %d", rec.Code)
	}
}

func TestRateLimitChargesBatchPerItem(t *testing.T) {
	limiter := &chargeRecorder{}
	env := newTestEnv(t, Options{RateLimiter: limiter, RateLimitSubjectHeader: "X-Team"})

	body := domain.BatchConvertRequest{
		InputPaths:   []string{"/in/a.png", "/in/b.png"},
		Inputs:       []domain.BatchInput{{Data: "aGVsbG8=", Filename: "c.png"}},
		OutputFormat: "png",
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewReader(raw))
	req.Header.Set("X-Team", "design")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(limiter.costs) != 1 || limiter.costs[0] != 3 || limiter.subjects[0] != "design:batches" {
		t.Fatalf("expected one charge of 3 for design:batches, got %v %v", limiter.subjects, limiter.costs)
	}

	env.do(t, http.MethodPost, "/v1/images/info", domain.InfoRequest{ImagePath: "/missing.png"})
	if len(limiter.subjects) != 2 || limiter.subjects[1] != "anonymous:info" || limiter.costs[1] != 1 {
		t.Fatalf("expected info charged once for anonymous, got %v %v", limiter.subjects, limiter.costs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodGet, "/healthz", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pixelconvert_api_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/batches/abc123": "/v1/batches/{id}",
		"/v1/batches":        "/v1/batches",
		"/v1/conversions":    "/v1/conversions",
		"/wp-admin":          "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%s) = %s, want %s", path, got, want)
		}
	}
}
