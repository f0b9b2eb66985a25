package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	CompileErrorsKey   = "convoflow.compile.errors"
	CompileWarningsKey = "convoflow.compile.warnings"
)

// SetError marks the span failed. A nil err leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// RecordFindings attaches compiler finding counts to the span. Findings are
// data, so the span status is left alone.
func RecordFindings(span trace.Span, errors, warnings []string) {
	span.SetAttributes(
		attribute.Int(CompileErrorsKey, len(errors)),
		attribute.Int(CompileWarningsKey, len(warnings)),
	)
}
