package redissource

import (
	"strings"
	"testing"
	"time"

	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/query"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func itemID(i item) string { return i.ID }

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{}, itemID, query.StructAccessor[item](), logger.NewNop())
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
	if err.Error() != "redis URL is required" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewRequiresIDFunc(t *testing.T) {
	_, err := New[item, string](Config{URL: "redis://localhost:6379"}, nil, query.StructAccessor[item](), logger.NewNop())
	if err == nil {
		t.Fatal("expected error for missing id function")
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(Config{URL: "invalid://url"}, itemID, query.StructAccessor[item](), logger.NewNop())
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
	if !strings.Contains(err.Error(), "parse redis URL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{URL: "redis://localhost:6379"}
	cfg.normalize()
	if cfg.Prefix != defaultPrefix {
		t.Fatalf("Prefix = %q, want %q", cfg.Prefix, defaultPrefix)
	}
	if cfg.OperationTimeout != defaultOperationTimeout {
		t.Fatalf("OperationTimeout = %v", cfg.OperationTimeout)
	}

	cfg = Config{URL: "redis://localhost:6379", Prefix: "app", OperationTimeout: time.Second}
	cfg.normalize()
	if cfg.Prefix != "app" || cfg.OperationTimeout != time.Second {
		t.Fatalf("normalize overwrote explicit settings: %+v", cfg)
	}
}

func TestKeyLayout(t *testing.T) {
	s := NewFromClient[item, string](nil, "app", itemID, query.StructAccessor[item]())
	if got := s.recordKey("42"); got != "app:rec:42" {
		t.Fatalf("recordKey = %q", got)
	}
	if got := s.timeKey("42"); got != "app:ts:42" {
		t.Fatalf("timeKey = %q", got)
	}
	if s.Capabilities().SupportsNativeFiltering {
		t.Fatal("redis source must not advertise native filtering")
	}
	if !s.Capabilities().SupportsOffline {
		t.Fatal("redis source should advertise offline support")
	}
}
