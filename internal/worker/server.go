package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelconvert/internal/config"
	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
	"github.com/dunamismax/pixelconvert/internal/queue"
	"github.com/dunamismax/pixelconvert/internal/store"
	"github.com/dunamismax/pixelconvert/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	runner        batchRunner
	publisher     outputPublisher
	webhookClient webhookSender
	batchStore    store.BatchStore
	metrics       *metrics
	tracer        trace.Tracer
}

type batchRunner interface {
	ConvertAll(ctx context.Context, batch convert.BatchRequest) []convert.BatchItemResult
}

type outputPublisher interface {
	PublishFile(ctx context.Context, batchID, filePath string) (string, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Options carries the optional collaborators. A nil Publisher keeps outputs
// on local disk only.
type Options struct {
	Publisher  outputPublisher
	Webhook    webhookSender
	BatchStore store.BatchStore
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	converter *convert.Converter,
	opts Options,
) (*Server, error) {
	if converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if opts.BatchStore == nil {
		return nil, fmt.Errorf("batch store is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveBatches)),
		runner:        convert.NewBatchRunner(converter, logger),
		publisher:     opts.Publisher,
		webhookClient: opts.Webhook,
		batchStore:    opts.BatchStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelconvert/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertBatch, s.handleConvertBatch)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

type batchEvent struct {
	BatchID     string                    `json:"batch_id"`
	Status      string                    `json:"status"`
	Succeeded   int                       `json:"succeeded"`
	Failed      int                       `json:"failed"`
	Results     []convert.BatchItemResult `json:"results"`
	Published   []string                  `json:"published,omitempty"`
	RequestedAt time.Time                 `json:"requested_at"`
	CompletedAt time.Time                 `json:"completed_at"`
}

func (s *Server) handleConvertBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.BatchStatusFailed

	payload, err := queue.ParseConvertBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	batch := payload.Request.ToBatch()
	ctx, span := s.tracer.Start(ctx, "worker.convert_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("batch.id", payload.BatchID),
		attribute.String("batch.output_format", batch.OutputFormat),
		attribute.Int("batch.items", len(batch.Items)),
	)
	defer span.End()
	defer func() {
		s.metrics.batchDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.batchesTotal.WithLabelValues(outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "waiting for a batch slot")
		return ctx.Err()
	}
	s.metrics.activeBatches.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeBatches.Dec()
	}()

	s.logger.Printf(
		"Working... batch_id=%s items=%d format=%s",
		payload.BatchID,
		len(batch.Items),
		batch.OutputFormat,
	)
	if err := s.ensureBatch(ctx, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load batch failed")
		return err
	}
	s.updateStatus(ctx, payload.BatchID, domain.BatchStatusProcessing)

	results := s.runner.ConvertAll(ctx, batch)
	s.recordItems(results)
	published := s.publish(ctx, payload.BatchID, results)

	job, err := s.batchStore.SaveResults(ctx, payload.BatchID, results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save results failed")
		return fmt.Errorf("save batch results: %w", err)
	}
	s.logger.Printf("Converted batch_id=%s succeeded=%d failed=%d", job.ID, job.Succeeded, job.Failed)

	event := batchEvent{
		BatchID:     job.ID,
		Status:      job.Status,
		Succeeded:   job.Succeeded,
		Failed:      job.Failed,
		Results:     results,
		Published:   published,
		RequestedAt: payload.RequestedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.dispatchWebhook(ctx, payload, webhook.EventBatchCompleted, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.BatchStatusCompleted
	span.SetAttributes(
		attribute.Int("batch.succeeded", job.Succeeded),
		attribute.Int("batch.failed", job.Failed),
	)
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) recordItems(results []convert.BatchItemResult) {
	for _, r := range results {
		if !r.Success {
			s.metrics.itemsTotal.WithLabelValues("failed", string(r.ErrorKind)).Inc()
			continue
		}
		s.metrics.itemsTotal.WithLabelValues("succeeded", "").Inc()
		if stat, err := os.Stat(r.OutputPath); err == nil {
			s.metrics.outputBytes.Add(float64(stat.Size()))
		}
	}
}

// publish uploads successful outputs. Upload failures are logged and never
// fail the batch, since the local output already exists.
func (s *Server) publish(ctx context.Context, batchID string, results []convert.BatchItemResult) []string {
	if s.publisher == nil {
		return nil
	}

	var keys []string
	for _, r := range results {
		if !r.Success {
			continue
		}
		key, err := s.publisher.PublishFile(ctx, batchID, r.OutputPath)
		if err != nil {
			s.metrics.publishedTotal.WithLabelValues("error").Inc()
			s.logger.Printf("publish failed batch_id=%s output=%s err=%v", batchID, r.OutputPath, err)
			continue
		}
		s.metrics.publishedTotal.WithLabelValues("ok").Inc()
		keys = append(keys, key)
	}
	return keys
}

// ensureBatch records batches this process has not seen, which happens
// when the API and worker do not share a store.
func (s *Server) ensureBatch(ctx context.Context, payload queue.ConvertBatchPayload) error {
	_, ok, err := s.batchStore.Get(ctx, payload.BatchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if ok {
		return nil
	}

	now := time.Now().UTC()
	job := domain.BatchJob{
		ID:         payload.BatchID,
		Status:     domain.BatchStatusQueued,
		Request:    payload.Request,
		WebhookURL: payload.WebhookURL,
		CreatedAt:  payload.RequestedAt,
		UpdatedAt:  now,
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if err := s.batchStore.Create(ctx, job); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *Server) updateStatus(ctx context.Context, batchID, status string) {
	if _, err := s.batchStore.UpdateStatus(ctx, batchID, status); err != nil {
		s.logger.Printf("batch status update failed batch_id=%s status=%s err=%v", batchID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertBatchPayload, event string, body any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.Inc()
		s.logger.Printf("webhook delivery failed batch_id=%s event=%s err=%v", payload.BatchID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}
