package core

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/KongGithubDev/LightLink/internal/store"
)

// Hub ties the status cache, the catalog and the broadcaster together.
// Every status change goes through it so subscribers always see the merged
// view.
type Hub struct {
	cache   *Cache
	events  *Broadcaster
	catalog store.Catalog
	logger  *slog.Logger
	mock    bool

	// pubMu serializes change-merge-publish so subscribers see merged
	// views in the order the cache changed.
	pubMu       sync.Mutex
	controllers atomic.Int32
}

// NewHub creates a hub. In mock mode commands are applied by the simulator
// instead of being forwarded to a controller.
func NewHub(cache *Cache, events *Broadcaster, catalog store.Catalog, logger *slog.Logger, mock bool) *Hub {
	return &Hub{
		cache:   cache,
		events:  events,
		catalog: catalog,
		logger:  logger.With("component", "hub"),
		mock:    mock,
	}
}

func (h *Hub) Cache() *Cache            { return h.cache }
func (h *Hub) Events() *Broadcaster     { return h.events }
func (h *Hub) Catalog() store.Catalog   { return h.catalog }
func (h *Hub) Mock() bool               { return h.mock }
func (h *Hub) ControllerAttached() bool { return h.controllers.Load() > 0 }
func (h *Hub) Controllers() int         { return int(h.controllers.Load()) }

// SetStatus caches st and broadcasts the resulting merged status.
func (h *Hub) SetStatus(st DeviceStatus) (DeviceStatus, error) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	stored := h.cache.Set(st)
	return stored, h.republishLocked()
}

// MutateStatus applies fn to the cached status atomically and broadcasts the
// result.
func (h *Hub) MutateStatus(fn func(st *DeviceStatus, ok bool) error) (DeviceStatus, error) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	stored, err := h.cache.Mutate(fn)
	if err != nil {
		return DeviceStatus{}, err
	}
	return stored, h.republishLocked()
}

// Merged returns the catalog overlaid with the cached status.
func (h *Hub) Merged() (MergedStatus, error) {
	lights, err := h.catalog.List()
	if err != nil {
		return MergedStatus{}, fmt.Errorf("list catalog: %w", err)
	}
	var live *DeviceStatus
	if st, ok := h.cache.Get(); ok {
		live = &st
	}
	m := Merge(lights, live)
	m.DeviceConnected = h.mock || h.ControllerAttached()
	return m, nil
}

// Republish broadcasts the current merged status. When the catalog cannot be
// read nothing is broadcast.
func (h *Hub) Republish() error {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.republishLocked()
}

func (h *Hub) republishLocked() error {
	m, err := h.Merged()
	if err != nil {
		h.logger.Error("merge status", "error", err)
		return err
	}
	h.events.Publish(Event{Type: EventStatus, Payload: m})
	return nil
}

// CatalogLights returns the catalog in the normalized form sent to
// controllers.
func (h *Hub) CatalogLights() ([]store.Light, error) {
	lights, err := h.catalog.List()
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	out := make([]store.Light, 0, len(lights))
	for _, l := range lights {
		out = append(out, l.Normalized())
	}
	return out, nil
}

// CatalogEvent builds the event announcing the current catalog.
func (h *Hub) CatalogEvent() (Event, error) {
	lights, err := h.CatalogLights()
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventCatalog, Payload: map[string]any{"lights": lights}}, nil
}

// PublishCatalog broadcasts the current catalog.
func (h *Hub) PublishCatalog() error {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	e, err := h.CatalogEvent()
	if err != nil {
		h.logger.Error("catalog event", "error", err)
		return err
	}
	h.events.Publish(e)
	return nil
}

// AttachController records a live push link to a controller. While at least
// one is attached, forwarded commands are not queued for polling. The
// returned function detaches; calling it more than once is harmless.
func (h *Hub) AttachController(kind string) (detach func()) {
	h.controllers.Add(1)
	h.logger.Info("controller attached", "link", kind, "controllers", h.Controllers())
	h.Republish()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.controllers.Add(-1)
			h.logger.Info("controller detached", "link", kind, "controllers", h.Controllers())
			h.Republish()
		})
	}
}
