package ringbuf

import (
	"fmt"
	"sync"
	"testing"

	"directindex/internal/model"
)

func ev(stage, msg string) model.CycleEvent {
	return model.CycleEvent{Cycle: "c1", Stage: stage, Message: msg}
}

func TestRing_PushAssignsSequence(t *testing.T) {
	r := New(4)

	if got := r.Push(ev(model.StageStarted, "a")); got != 1 {
		t.Fatalf("first push seq = %d, want 1", got)
	}
	if got := r.Push(ev(model.StagePrices, "b")); got != 2 {
		t.Fatalf("second push seq = %d, want 2", got)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if r.LastSeq() != 2 {
		t.Fatalf("last seq = %d, want 2", r.LastSeq())
	}
}

func TestRing_SinceReturnsTail(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		r.Push(ev(model.StageOptimize, fmt.Sprintf("m%d", i)))
	}

	got := r.Since(3)
	if len(got) != 2 {
		t.Fatalf("Since(3) returned %d entries, want 2", len(got))
	}
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("Since(3) seqs = %d,%d, want 4,5", got[0].Seq, got[1].Seq)
	}
	if got[0].Event.Message != "m3" {
		t.Fatalf("Since(3) first message = %q, want m3", got[0].Event.Message)
	}

	if all := r.Since(0); len(all) != 5 {
		t.Fatalf("Since(0) returned %d entries, want 5", len(all))
	}
}

func TestRing_OverwritesOldestWhenFull(t *testing.T) {
	r := New(3)
	for i := 1; i <= 5; i++ {
		r.Push(ev(model.StageExecute, fmt.Sprintf("m%d", i)))
	}

	if r.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", r.Len())
	}

	got := r.Since(0)
	wantSeqs := []int64{3, 4, 5}
	for i, w := range wantSeqs {
		if got[i].Seq != w {
			t.Errorf("entry %d seq = %d, want %d", i, got[i].Seq, w)
		}
	}
	// Seq 1 and 2 are gone; Since past the buffered window returns what remains.
	if tail := r.Since(1); len(tail) != 3 {
		t.Errorf("Since(1) returned %d entries, want 3", len(tail))
	}
}

func TestRing_Recent(t *testing.T) {
	r := New(4)
	for i := 1; i <= 4; i++ {
		r.Push(ev(model.StageDone, fmt.Sprintf("m%d", i)))
	}

	got := r.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries, want 2", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Fatalf("Recent(2) seqs = %d,%d, want 3,4", got[0].Seq, got[1].Seq)
	}

	if got := r.Recent(10); len(got) != 4 {
		t.Fatalf("Recent(10) returned %d entries, want all 4", len(got))
	}
	if got := r.Recent(0); got != nil {
		t.Fatalf("Recent(0) = %v, want nil", got)
	}
}

func TestRing_EmptyAndZeroCapacity(t *testing.T) {
	r := New(0) // falls back to the default capacity
	if r.Len() != 0 {
		t.Fatalf("empty ring len = %d, want 0", r.Len())
	}
	if got := r.Since(0); got != nil {
		t.Fatalf("Since on empty ring = %v, want nil", got)
	}
	if r.LastSeq() != 0 {
		t.Fatalf("empty ring last seq = %d, want 0", r.LastSeq())
	}
}

func TestRing_ConcurrentPushers(t *testing.T) {
	const pushers = 8
	const perPusher = 1000
	r := New(512)

	var wg sync.WaitGroup
	wg.Add(pushers)
	for p := 0; p < pushers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perPusher; i++ {
				r.Push(ev(model.StagePrices, "x"))
			}
		}()
	}
	wg.Wait()

	if r.LastSeq() != pushers*perPusher {
		t.Fatalf("last seq = %d, want %d", r.LastSeq(), pushers*perPusher)
	}
	if r.Len() != 512 {
		t.Fatalf("len = %d, want full capacity 512", r.Len())
	}

	// Buffered entries must hold the newest contiguous sequence range.
	entries := r.Since(0)
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Fatalf("gap in buffered seqs at %d: %d then %d", i, entries[i-1].Seq, entries[i].Seq)
		}
	}
}
