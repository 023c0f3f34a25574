package agent

import (
	"sync"
	"testing"
)

func TestCancelIsOneShotAndIdempotent(t *testing.T) {
	sig := NewSignals()
	if _, is := sig.Cancelled(); is {
		t.Fatal("fresh signals report cancelled")
	}
	sig.Cancel("stop")
	sig.Cancel("later reason")
	reason, is := sig.Cancelled()
	if !is || reason != "stop" {
		t.Fatalf("cancelled = %v reason = %q, want first reason to win", is, reason)
	}
	select {
	case <-sig.CancelChan():
	default:
		t.Fatal("cancel channel not closed")
	}
}

func TestSkipClearsOnTake(t *testing.T) {
	sig := NewSignals()
	sig.RequestSkip("boring")
	sig.RequestSkip("ignored")
	reason, is := sig.TakeSkip()
	if !is || reason != "boring" {
		t.Fatalf("take = %v %q", is, reason)
	}
	if _, is := sig.TakeSkip(); is {
		t.Fatal("skip not cleared after take")
	}
}

func TestInsertsDrainInArrivalOrder(t *testing.T) {
	sig := NewSignals()
	sig.Insert("one")
	sig.Insert("two")
	got := sig.DrainInserts()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("inserts = %v", got)
	}
	if len(sig.DrainInserts()) != 0 {
		t.Fatal("drain did not clear the queue")
	}
}

func TestSignalsConcurrentRaise(t *testing.T) {
	sig := NewSignals()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Cancel("x")
			sig.RequestSkip("y")
			sig.Insert("z")
		}()
	}
	wg.Wait()
	if _, is := sig.Cancelled(); !is {
		t.Fatal("cancel lost")
	}
	if got := sig.DrainInserts(); len(got) != 50 {
		t.Fatalf("inserts = %d, want 50", len(got))
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	task := NewTask(sessionKey())
	task.transition(StateCompiling)
	task.transition(StateReasoning)
	task.transition(StateCompleted)
	task.transition(StateActing)
	if got := task.State(); got != StateCompleted {
		t.Fatalf("state = %s, want completed to absorb", got)
	}
	if !StateFailed.Terminal() || StateObserving.Terminal() {
		t.Fatal("terminal classification wrong")
	}
}
