package convert

import (
	"context"
	"io"
	"log"
)

// BatchItem is one entry of a batch. OutputPath is optional.
type BatchItem struct {
	Source     Source
	OutputPath string
}

// BatchRequest applies the same conversion settings to every item.
type BatchRequest struct {
	Items             []BatchItem
	OutputFormat      string
	Quality           int
	Width             int
	Height            int
	IgnoreAspectRatio bool
	// OutputDir holds generated outputs. Without it, each output lands
	// beside its input.
	OutputDir string
}

type BatchItemResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  Kind   `json:"error_kind,omitempty"`
}

type singleConverter interface {
	Convert(ctx context.Context, req Request) (Result, error)
}

// BatchRunner converts items one at a time. A failed item is reported in
// its slot and never stops the rest.
type BatchRunner struct {
	converter singleConverter
	logger    *log.Logger
}

func NewBatchRunner(converter singleConverter, logger *log.Logger) *BatchRunner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &BatchRunner{converter: converter, logger: logger}
}

// ConvertAll returns one result per item, in item order.
func (b *BatchRunner) ConvertAll(ctx context.Context, batch BatchRequest) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(batch.Items))

	for i, item := range batch.Items {
		result, err := b.converter.Convert(ctx, Request{
			Source:            item.Source,
			OutputFormat:      batch.OutputFormat,
			Quality:           batch.Quality,
			Width:             batch.Width,
			Height:            batch.Height,
			IgnoreAspectRatio: batch.IgnoreAspectRatio,
			OutputPath:        item.OutputPath,
			OutputDir:         batch.OutputDir,
		})
		if err != nil {
			b.logger.Printf("batch item failed index=%d kind=%s err=%v", i, KindOf(err), err)
			results = append(results, BatchItemResult{
				Success:   false,
				Error:     err.Error(),
				ErrorKind: KindOf(err),
			})
			continue
		}

		results = append(results, BatchItemResult{
			Success:    true,
			OutputPath: result.OutputPath,
		})
	}

	return results
}

// Succeeded counts successful results.
func Succeeded(results []BatchItemResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
