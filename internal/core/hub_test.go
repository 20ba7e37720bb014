package core

import (
	"sync"
	"testing"
	"time"
)

// Concurrent status writers must not let an older merged view reach
// subscribers after a newer one.
func TestSetStatusPublishesInOrder(t *testing.T) {
	h := newTestHub(t, false)

	var (
		mu   sync.Mutex
		last string
	)
	h.Events().Subscribe(SubscriberFunc(func(e Event) error {
		if e.Type != EventStatus {
			return nil
		}
		m := e.Payload.(MergedStatus)
		if m.Device == "a" {
			// Slow down one writer's delivery so an unordered publish
			// would land after the other writer's.
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		last = m.Device
		mu.Unlock()
		return nil
	}))

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for _, dev := range []string{"a", "b"} {
			wg.Add(1)
			go func(dev string) {
				defer wg.Done()
				if _, err := h.SetStatus(DeviceStatus{Device: dev}); err != nil {
					t.Error(err)
				}
			}(dev)
		}
		wg.Wait()

		st, ok := h.Cache().Get()
		if !ok {
			t.Fatal("cache empty after SetStatus")
		}
		mu.Lock()
		got := last
		mu.Unlock()
		if got != st.Device {
			t.Fatalf("round %d: last published device = %q, cache holds %q", round, got, st.Device)
		}
	}
}

func TestMutateStatusErrorPublishesNothing(t *testing.T) {
	h := newTestHub(t, false)
	rec := &recorder{}
	h.Events().Subscribe(rec)

	_, err := h.MutateStatus(func(*DeviceStatus, bool) error { return fail(CodeNotFound) })
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
	if n := len(rec.ofType(EventStatus)); n != 0 {
		t.Errorf("status events = %d, want 0", n)
	}
}
