package convert

import (
	"errors"
	"strings"
)

// Kind classifies a conversion failure.
type Kind string

const (
	KindMissingInput            Kind = "missing_input"
	KindInputNotFound           Kind = "input_not_found"
	KindInputDecode             Kind = "input_decode"
	KindInvalidRequest          Kind = "invalid_request"
	KindUnsupportedInputFormat  Kind = "unsupported_input_format"
	KindUnsupportedOutputFormat Kind = "unsupported_output_format"
	KindUnsupportedCodec        Kind = "unsupported_codec"
	KindUnsupportedFormat       Kind = "unsupported_format"
	KindDecode                  Kind = "decode"
	KindEncode                  Kind = "encode"
	KindIO                      Kind = "io"
	KindInternalDispatch        Kind = "internal_dispatch"
	KindUnknown                 Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func wrapError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func ioError(op, path string, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Path: path, Message: "filesystem operation failed", Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
