package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/pixelconvert/internal/convert"
)

const (
	BatchStatusCreated    = "created"
	BatchStatusQueued     = "queued"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// BatchInput is one object-form batch entry. Data wins over Path.
type BatchInput struct {
	Path     string `json:"path,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Label names the entry in summaries.
func (in BatchInput) Label() string {
	switch {
	case strings.TrimSpace(in.Data) != "" && strings.TrimSpace(in.Filename) != "":
		return in.Filename
	case strings.TrimSpace(in.Data) != "":
		return "data"
	case strings.TrimSpace(in.Path) != "":
		return in.Path
	default:
		return "(empty)"
	}
}

type BatchConvertRequest struct {
	InputPaths          []string     `json:"input_paths,omitempty"`
	Inputs              []BatchInput `json:"inputs,omitempty"`
	OutputFormat        string       `json:"output_format" validate:"required"`
	Quality             int          `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
	Width               int          `json:"width,omitempty" validate:"omitempty,min=1"`
	Height              int          `json:"height,omitempty" validate:"omitempty,min=1"`
	MaintainAspectRatio *bool        `json:"maintain_aspect_ratio,omitempty"`
	OutputDirectory     string       `json:"output_directory,omitempty"`
	WebhookURL          string       `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// Validate checks request-wide fields only. A bad entry fails in its own
// result slot when the batch runs.
func (r BatchConvertRequest) Validate() error {
	if len(r.InputPaths) == 0 && len(r.Inputs) == 0 {
		return errors.New("input_paths or inputs must contain at least one entry")
	}
	return validationError(validate.Struct(r))
}

// Labels lists entry names in batch order: input_paths first, then inputs.
func (r BatchConvertRequest) Labels() []string {
	labels := make([]string, 0, len(r.InputPaths)+len(r.Inputs))
	labels = append(labels, r.InputPaths...)
	for _, in := range r.Inputs {
		labels = append(labels, in.Label())
	}
	return labels
}

func (r BatchConvertRequest) ToBatch() convert.BatchRequest {
	items := make([]convert.BatchItem, 0, len(r.InputPaths)+len(r.Inputs))
	for _, path := range r.InputPaths {
		items = append(items, convert.BatchItem{Source: sourceOf(path, "", "")})
	}
	for _, in := range r.Inputs {
		items = append(items, convert.BatchItem{Source: sourceOf(in.Path, in.Data, in.Filename)})
	}

	return convert.BatchRequest{
		Items:             items,
		OutputFormat:      r.OutputFormat,
		Quality:           r.Quality,
		Width:             r.Width,
		Height:            r.Height,
		IgnoreAspectRatio: ignoreAspect(r.MaintainAspectRatio),
		OutputDir:         strings.TrimSpace(r.OutputDirectory),
	}
}

// BatchJob tracks a queued batch through the worker.
type BatchJob struct {
	ID         string                    `json:"id"`
	Status     string                    `json:"status"`
	Request    BatchConvertRequest       `json:"request"`
	Results    []convert.BatchItemResult `json:"results,omitempty"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
	WebhookURL string                    `json:"webhook_url,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Summary is a job view without the inline payloads of the request.
func (j BatchJob) Summary() BatchJob {
	inputs := make([]BatchInput, len(j.Request.Inputs))
	for i, in := range j.Request.Inputs {
		in.Data = ""
		inputs[i] = in
	}
	j.Request.Inputs = inputs
	return j
}
