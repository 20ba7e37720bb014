package core

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/KongGithubDev/LightLink/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCatalog(t *testing.T) store.Catalog {
	t.Helper()
	c, err := store.NewBoltCatalog(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestHub(t *testing.T, mock bool) *Hub {
	t.Helper()
	return NewHub(NewCache(), NewBroadcaster(testLogger()), newTestCatalog(t), testLogger(), mock)
}

func newTestDispatcher(t *testing.T, mock bool) *Dispatcher {
	t.Helper()
	return NewDispatcher(newTestHub(t, mock), NewQueue(), testLogger())
}

// recorder collects every event it is delivered.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(typ string) (Event, bool) {
	evs := r.ofType(typ)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

func findLight(t *testing.T, m MergedStatus, name string) MergedLight {
	t.Helper()
	for _, l := range m.Lights {
		if l.Name == name {
			return l
		}
	}
	t.Fatalf("light %q not in merged status %+v", name, m.Lights)
	return MergedLight{}
}

func boolPtr(b bool) *bool { return &b }
