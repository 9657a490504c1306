package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
	"github.com/dunamismax/pixelconvert/internal/formats"
	"github.com/dunamismax/pixelconvert/internal/id"
	"github.com/dunamismax/pixelconvert/internal/queue"
	"github.com/dunamismax/pixelconvert/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Inline base64 payloads make bodies larger than typical JSON APIs.
const maxBodyBytes = 64 << 20

type Server struct {
	logger                 *log.Logger
	converter              conversionService
	queueClient            queueEnqueuer
	batchStore             store.BatchStore
	rateLimiter            RateLimiter
	rateLimitSubjectHeader string
	tracer                 trace.Tracer
	metrics                *metrics
	mux                    *http.ServeMux
}

type conversionService interface {
	Convert(ctx context.Context, req convert.Request) (convert.Result, error)
	Info(ctx context.Context, path string) (convert.ImageInfo, error)
}

type queueEnqueuer interface {
	EnqueueConvertBatch(ctx context.Context, payload queue.ConvertBatchPayload) (*asynq.TaskInfo, error)
}

type Options struct {
	// RateLimiter is optional. Conversion, info and batch requests are
	// metered per value of RateLimitSubjectHeader.
	RateLimiter            RateLimiter
	RateLimitSubjectHeader string
	Tracer                 trace.Tracer
}

func NewServer(logger *log.Logger, converter conversionService, queueClient queueEnqueuer, batchStore store.BatchStore, opts Options) *Server {
	if strings.TrimSpace(opts.RateLimitSubjectHeader) == "" {
		opts.RateLimitSubjectHeader = "X-User-ID"
	}

	s := &Server{
		logger:                 logger,
		converter:              converter,
		queueClient:            queueClient,
		batchStore:             batchStore,
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: opts.RateLimitSubjectHeader,
		tracer:                 opts.Tracer,
		metrics:                newMetrics(),
		mux:                    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/formats", s.handleFormats)
	s.mux.HandleFunc("POST /v1/conversions", s.handleConvert)
	s.mux.HandleFunc("POST /v1/images/info", s.handleInfo)
	s.mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
}

type errorBody struct {
	Error string       `json:"error"`
	Kind  convert.Kind `json:"kind,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"inputs":  formats.Inputs(),
		"outputs": formats.Outputs(),
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req domain.ConvertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: convert.KindInvalidRequest})
		return
	}

	format := formats.Normalize(req.OutputFormat)
	result, err := s.converter.Convert(r.Context(), req.ToConvert())
	s.metrics.conversionsTotal.WithLabelValues(metricFormat(format), string(convert.KindOf(err))).Inc()
	if err != nil {
		s.writeConvertError(w, "convert", err)
		return
	}
	s.metrics.outputBytes.WithLabelValues(result.Format).Observe(float64(result.FileSize))

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req domain.InfoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: convert.KindInvalidRequest})
		return
	}

	info, err := s.converter.Info(r.Context(), req.ImagePath)
	if err != nil {
		s.writeConvertError(w, "image info", err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchConvertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: convert.KindInvalidRequest})
		return
	}
	if !formats.IsSupportedOutput(req.OutputFormat) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{
			Error: fmt.Sprintf("unsupported output format: %s", req.OutputFormat),
			Kind:  convert.KindUnsupportedOutputFormat,
		})
		return
	}
	items := len(req.InputPaths) + len(req.Inputs)
	if !s.admit(w, r, batchRateLimitClass, items) {
		return
	}

	now := time.Now().UTC()
	job := domain.BatchJob{
		ID:         id.New(),
		Status:     domain.BatchStatusCreated,
		Request:    req,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("batch.id", job.ID),
		attribute.Int("batch.items", items),
	)
	if err := s.batchStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create batch failed batch_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to create batch"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvertBatch(r.Context(), queue.ConvertBatchPayload{
		BatchID:     job.ID,
		Request:     req,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed batch_id=%s err=%v", job.ID, err)
		if _, err := s.batchStore.UpdateStatus(r.Context(), job.ID, domain.BatchStatusFailed); err != nil {
			s.logger.Printf("update status failed batch_id=%s err=%v", job.ID, err)
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to enqueue batch"})
		return
	}
	s.metrics.batchesEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.batchStore.UpdateStatus(r.Context(), job.ID, domain.BatchStatusQueued); err != nil {
		s.logger.Printf("update status failed batch_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":    job.ID,
		"status":      domain.BatchStatusQueued,
		"items":       items,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"status_url":  "/v1/batches/" + job.ID,
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(r.PathValue("id"))
	if batchID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch id is required"})
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("batch.id", batchID))

	job, ok, err := s.batchStore.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed batch_id=%s err=%v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "batch not found"})
		return
	}

	writeJSON(w, http.StatusOK, job.Summary())
}

func (s *Server) writeConvertError(w http.ResponseWriter, op string, err error) {
	status := statusForKind(convert.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s failed kind=%s err=%v", op, convert.KindOf(err), err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: convert.KindOf(err)})
}

func statusForKind(kind convert.Kind) int {
	switch kind {
	case convert.KindMissingInput, convert.KindInputDecode, convert.KindInvalidRequest:
		return http.StatusBadRequest
	case convert.KindInputNotFound:
		return http.StatusNotFound
	case convert.KindUnsupportedInputFormat, convert.KindUnsupportedOutputFormat,
		convert.KindUnsupportedFormat, convert.KindUnsupportedCodec:
		return http.StatusUnsupportedMediaType
	case convert.KindDecode, convert.KindEncode:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// metricFormat folds unknown formats into one label value.
func metricFormat(format string) string {
	if formats.IsSupportedOutput(format) {
		return format
	}
	return "unsupported"
}

func decodeJSON(r *http.Request, into any) error {
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
