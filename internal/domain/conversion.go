package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ConvertRequest is the wire shape of a single conversion.
type ConvertRequest struct {
	InputPath     string `json:"input_path,omitempty"`
	InputData     string `json:"input_data,omitempty"`
	InputFilename string `json:"input_filename,omitempty"`
	OutputFormat  string `json:"output_format" validate:"required"`
	Quality       int    `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
	Width         int    `json:"width,omitempty" validate:"omitempty,min=1"`
	Height        int    `json:"height,omitempty" validate:"omitempty,min=1"`
	// MaintainAspectRatio defaults to true when omitted.
	MaintainAspectRatio *bool  `json:"maintain_aspect_ratio,omitempty"`
	OutputPath          string `json:"output_path,omitempty"`
}

func (r ConvertRequest) Validate() error {
	if strings.TrimSpace(r.InputPath) == "" && strings.TrimSpace(r.InputData) == "" {
		return errors.New("either input_path or input_data is required")
	}
	return validationError(validate.Struct(r))
}

// ToConvert maps the request onto the converter. Payload data wins over a path.
func (r ConvertRequest) ToConvert() convert.Request {
	return convert.Request{
		Source:            sourceOf(r.InputPath, r.InputData, r.InputFilename),
		OutputFormat:      r.OutputFormat,
		Quality:           r.Quality,
		Width:             r.Width,
		Height:            r.Height,
		IgnoreAspectRatio: ignoreAspect(r.MaintainAspectRatio),
		OutputPath:        strings.TrimSpace(r.OutputPath),
	}
}

type InfoRequest struct {
	ImagePath string `json:"image_path" validate:"required"`
}

func (r InfoRequest) Validate() error {
	return validationError(validate.Struct(r))
}

func sourceOf(path, data, filename string) convert.Source {
	switch {
	case strings.TrimSpace(data) != "":
		return convert.EncodedSource{Text: data, Filename: filename}
	case strings.TrimSpace(path) != "":
		return convert.PathSource{Path: strings.TrimSpace(path)}
	default:
		return nil
	}
}

func ignoreAspect(maintain *bool) bool {
	return maintain != nil && !*maintain
}

// validationError flattens validator output into one readable message.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Namespace is "Struct.field"; drop the struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
