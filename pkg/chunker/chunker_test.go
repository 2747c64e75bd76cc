package chunker

import (
	"errors"
	"testing"
)

func TestNewPlan(t *testing.T) {
	plan, err := NewPlan(10000, 4096)
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	if plan.Count() != 3 {
		t.Fatalf("count = %d, want 3", plan.Count())
	}

	want := []Part{
		{Seq: 0, Offset: 0, Length: 4096},
		{Seq: 1, Offset: 4096, Length: 4096},
		{Seq: 2, Offset: 8192, Length: 1808, LastPart: true},
	}
	for _, w := range want {
		got, ok := plan.Part(w.Seq)
		if !ok || got != w {
			t.Errorf("part %d = %+v, %v; want %+v", w.Seq, got, ok, w)
		}
	}
	if _, ok := plan.Part(3); ok {
		t.Error("part past the end should not exist")
	}
}

func TestPlanExactMultiple(t *testing.T) {
	plan, err := NewPlan(1000, 1000)
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	if plan.Count() != 1 {
		t.Fatalf("wrong number of chunks: %d", plan.Count())
	}
	part, _ := plan.Part(0)
	if !part.LastPart || part.Length != 1000 {
		t.Errorf("unexpected part %+v", part)
	}
}

func TestPlanEmptyFile(t *testing.T) {
	plan, err := NewPlan(0, 4096)
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	if plan.Count() != 0 {
		t.Errorf("empty file should have no chunks, got %d", plan.Count())
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	if _, err := NewPlan(10, 0); err == nil {
		t.Error("zero chunk size accepted")
	}
	if _, err := NewPlan(-1, 10); err == nil {
		t.Error("negative size accepted")
	}
	if _, err := NewPlan(1<<33, 1); !errors.Is(err, ErrTooManyChunks) {
		t.Errorf("expected ErrTooManyChunks, got %v", err)
	}
}

func TestSlice(t *testing.T) {
	data := []byte("abcdefghij")
	plan, _ := NewPlan(int64(len(data)), 4)

	var got []string
	for seq := uint32(0); ; seq++ {
		b, ok := plan.Slice(data, seq)
		if !ok {
			break
		}
		got = append(got, string(b))
	}
	if len(got) != 3 || got[0] != "abcd" || got[1] != "efgh" || got[2] != "ij" {
		t.Fatalf("slices = %q", got)
	}
	if _, ok := plan.Slice(data[:5], 2); ok {
		t.Error("slice beyond a short buffer should fail")
	}
}
