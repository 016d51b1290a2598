package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestTraceID_DefaultsToDash(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx := WithTraceID(context.Background(), "")
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("empty trace id must fall back to '-', got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	id := NewTraceID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("trace id is not a uuid: %v", err)
	}
	ctx := WithTraceID(context.Background(), id)
	if got := TraceID(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
}

func TestBatchID_RoundTrip(t *testing.T) {
	if got := BatchID(context.Background()); got != "" {
		t.Fatalf("expected empty batch id, got %q", got)
	}
	id := NewBatchID()
	ctx := WithBatchID(context.Background(), id)
	if got := BatchID(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
}
