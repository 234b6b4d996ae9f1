package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestHoneycombSetup_Disabled(t *testing.T) {
	shutdown, err := HoneycombSetup(false, "gymweb-test", nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NotPanics(t, shutdown)
}

type recordingSpan struct {
	noop.Span
	recorded []error
	status   codes.Code
	ended    bool
}

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.recorded = append(s.recorded, err)
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) {
	s.status = code
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.ended = true
}

func TestEndSpan(t *testing.T) {
	span := &recordingSpan{}
	EndSpan(span, errors.New("backend unreachable"))
	assert.True(t, span.ended)
	assert.Equal(t, codes.Error, span.status)
	require.Len(t, span.recorded, 1)

	span = &recordingSpan{}
	EndSpan(span, nil)
	assert.True(t, span.ended)
	assert.Equal(t, codes.Ok, span.status)
	assert.Empty(t, span.recorded)
}
