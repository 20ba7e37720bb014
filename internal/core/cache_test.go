package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default returned different instances")
	}
}

func TestCacheSetStampsUpdatedAt(t *testing.T) {
	c := NewCache()
	fixed := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { return fixed }

	if _, ok := c.Get(); ok {
		t.Fatal("empty cache reported a status")
	}

	got := c.Set(DeviceStatus{Device: "esp", Lights: []LightState{{Name: "kitchen", State: true}}, UpdatedAt: 5})
	if got.UpdatedAt != fixed.UnixMilli() {
		t.Errorf("updatedAt = %d, want %d", got.UpdatedAt, fixed.UnixMilli())
	}

	st, ok := c.Get()
	if !ok || st.Device != "esp" || len(st.Lights) != 1 {
		t.Fatalf("get = %+v, %v", st, ok)
	}

	// Returned copies do not alias the cache.
	st.Lights[0].State = false
	again, _ := c.Get()
	if !again.Lights[0].State {
		t.Error("mutating a returned status changed the cache")
	}
}

func TestCacheMutate(t *testing.T) {
	c := NewCache()
	c.Set(DeviceStatus{Device: "esp", Lights: []LightState{{Name: "a"}}})

	boom := errors.New("boom")
	if _, err := c.Mutate(func(st *DeviceStatus, ok bool) error {
		st.Lights = nil
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	st, _ := c.Get()
	if len(st.Lights) != 1 {
		t.Error("failed mutate changed the cache")
	}

	st, err := c.Mutate(func(st *DeviceStatus, ok bool) error {
		if !ok {
			t.Error("ok = false for populated cache")
		}
		st.Lights[0].State = true
		return nil
	})
	if err != nil || !st.Lights[0].State {
		t.Errorf("mutate = %+v, %v", st, err)
	}
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue()
	a := SetLight{Target: "a"}
	b := SetLight{Target: "b", Toggle: true}
	q.Enqueue(a)
	q.Enqueue(b)
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}

	got := q.Drain()
	if len(got) != 2 || got[0] != Command(a) || got[1] != Command(b) {
		t.Errorf("first drain = %+v, want [a b]", got)
	}
	got = q.Drain()
	if got == nil || len(got) != 0 {
		t.Errorf("second drain = %#v, want empty", got)
	}
}

func TestQueueConcurrentEnqueueDrain(t *testing.T) {
	const producers, perProducer = 8, 200
	q := NewQueue()

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
		got  []Command
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-done:
				got = append(got, q.Drain()...)
				return
			default:
				got = append(got, q.Drain()...)
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(SetLight{Target: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()
	close(done)
	<-drained

	if len(got) != producers*perProducer {
		t.Fatalf("drained %d commands, want %d", len(got), producers*perProducer)
	}
	seen := make(map[string]bool, len(got))
	for _, c := range got {
		target := c.(SetLight).Target
		if seen[target] {
			t.Fatalf("command %s delivered twice", target)
		}
		seen[target] = true
	}
	if q.Len() != 0 {
		t.Errorf("queue len = %d after final drain", q.Len())
	}
}
