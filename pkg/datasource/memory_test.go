package datasource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexlayer/nexlayer/pkg/query"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

func newItemSource() *Memory[item, string] {
	return NewMemory[item, string](
		func(i item) string { return i.ID },
		query.StructAccessor[item](),
	)
}

func TestMemory_GetAbsent(t *testing.T) {
	m := newItemSource()
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemory_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	m := newItemSource()

	if err := m.Save(ctx, item{ID: "1", Name: "a"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Save(ctx, item{ID: "1", Name: "b"}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := m.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "b" {
		t.Fatalf("name = %q, want b", got.Name)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}

func TestMemory_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newItemSource()

	if err := m.Save(ctx, item{ID: "1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := m.Delete(ctx, "1"); err != nil {
		t.Fatalf("repeated delete should be a no-op, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("len = %d, want 0", m.Len())
	}
}

func TestMemory_GetAllFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	m := newItemSource()
	for _, it := range []item{
		{ID: "1", Name: "cyd", Rank: 3},
		{ID: "2", Name: "ada", Rank: 1},
		{ID: "3", Name: "bob", Rank: 2},
		{ID: "4", Name: "zed", Rank: 0},
	} {
		if err := m.Save(ctx, it); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	q := query.New().Where("rank", query.Gt, 0).OrderBy("rank", query.Asc)
	got, err := m.GetAll(ctx, q)
	if err != nil {
		t.Fatalf("getAll failed: %v", err)
	}
	if len(got) != 3 || got[0].Name != "ada" || got[2].Name != "cyd" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestMemory_UnorderedReadsAreInsertionOrdered(t *testing.T) {
	ctx := context.Background()
	m := newItemSource()
	for _, id := range []string{"c", "a", "b"} {
		if err := m.Save(ctx, item{ID: id}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, err := m.GetAll(ctx, query.New())
	if err != nil {
		t.Fatalf("getAll failed: %v", err)
	}
	for i, want := range []string{"c", "a", "b"} {
		if got[i].ID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestMemory_WrittenAt(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := newItemSource().WithClock(func() time.Time { return now })

	if _, ok := m.WrittenAt(ctx, "1"); ok {
		t.Fatal("absent record should have no write time")
	}
	if err := m.Save(ctx, item{ID: "1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	ts, ok := m.WrittenAt(ctx, "1")
	if !ok || !ts.Equal(now) {
		t.Fatalf("writtenAt = %v (%v), want %v", ts, ok, now)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	netErr := NewNetworkError("save", true, errors.New("connection reset"))
	if !errors.Is(netErr, ErrNetwork) {
		t.Fatal("NetworkError should match ErrNetwork")
	}
	if !IsRetryable(netErr) {
		t.Fatal("retryable flag should be honored")
	}
	if IsRetryable(NewNetworkError("save", false, nil)) {
		t.Fatal("non-retryable network error must not be retried")
	}
	if IsRetryable(ErrNotFound) || IsRetryable(ErrValidation) {
		t.Fatal("terminal errors must never be retryable")
	}

	conflict := &ConflictError{Key: "1"}
	if !errors.Is(conflict, ErrConflict) {
		t.Fatal("ConflictError should match ErrConflict")
	}

	wrapped := errors.Join(errors.New("outer"), ErrNotFound)
	if !IsNotFound(wrapped) {
		t.Fatal("IsNotFound should see through wrapping")
	}
}
