package observability

import (
	"context"
	"testing"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" || SessionKey(ctx) != "" {
		t.Error("empty context should carry no ids")
	}

	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionKey(ctx, "telegram:1:2")

	if got := RunID(ctx); got != "run-1" {
		t.Errorf("RunID = %q", got)
	}
	if got := SessionKey(ctx); got != "telegram:1:2" {
		t.Errorf("SessionKey = %q", got)
	}
	if Logger(ctx) == nil {
		t.Error("Logger returned nil")
	}
}
