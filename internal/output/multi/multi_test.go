package multi

import (
	"context"
	"errors"
	"testing"

	"github.com/crimson-sun/edrdash/internal/model"
)

// recorder records calls for test assertions.
type recorder struct {
	reports []*model.Report
	closed  bool
	err     error // if set, Write and Close return this error
}

func (m *recorder) Write(_ context.Context, r *model.Report) error {
	m.reports = append(m.reports, r)
	return m.err
}

func (m *recorder) Close() error {
	m.closed = true
	return m.err
}

func TestFanOutDeliversToAll(t *testing.T) {
	a, b, c := &recorder{}, &recorder{}, &recorder{}
	m := New(a, b, c)

	r := &model.Report{ID: "run-1"}
	if err := m.Write(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, out := range []*recorder{a, b, c} {
		if len(out.reports) != 1 {
			t.Fatalf("output %d: got %d reports, want 1", i, len(out.reports))
		}
		if out.reports[0].ID != "run-1" {
			t.Errorf("output %d: got id %q, want run-1", i, out.reports[0].ID)
		}
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	diskFull := errors.New("disk full")
	failing := &recorder{err: diskFull}
	healthy := &recorder{}
	m := New(failing, healthy)

	err := m.Write(context.Background(), &model.Report{ID: "run-2"})
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected joined disk full error, got %v", err)
	}
	if len(healthy.reports) != 1 {
		t.Fatalf("healthy output got %d reports, want 1", len(healthy.reports))
	}
}

func TestCloseCollectsErrors(t *testing.T) {
	a := &recorder{err: errors.New("err-a")}
	b := &recorder{err: errors.New("err-b")}
	m := New(a, b)

	err := m.Close()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !a.closed || !b.closed {
		t.Error("Close should be called on all outputs even when errors occur")
	}
}

func TestEmptyMultiIsNoop(t *testing.T) {
	m := New()
	if err := m.Write(context.Background(), &model.Report{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
