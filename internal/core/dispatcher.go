package core

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/KongGithubDev/LightLink/internal/schedule"
	"github.com/KongGithubDev/LightLink/internal/store"
)

// ActionUpdateLight labels catalog edits made through UpdateLight. It is not
// a wire command.
const ActionUpdateLight Action = "update_light"

// DefaultAllowedPins are the controller outputs a catalog entry may bind to.
var DefaultAllowedPins = []int{19, 21, 22, 23}

// Result is the outcome of a dispatched command.
type Result struct {
	Status *MergedStatus `json:"status,omitempty"`
	Light  *store.Light  `json:"light,omitempty"`
	Queued bool          `json:"queued,omitempty"`
}

// LightPatch is a partial catalog update. Nil fields are left unchanged.
type LightPatch struct {
	Pin             *int    `json:"pin"`
	On              *string `json:"on"`
	Off             *string `json:"off"`
	ScheduleEnabled *bool   `json:"scheduleEnabled"`
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver reports every handled command to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithAllowedPins replaces DefaultAllowedPins.
func WithAllowedPins(pins []int) DispatcherOption {
	return func(d *Dispatcher) {
		if len(pins) > 0 {
			d.allowedPins = slices.Clone(pins)
		}
	}
}

// Dispatcher classifies commands and routes them: catalog mutations go to
// the store, live commands to the controller (or the simulator in mock
// mode), and status queries are answered from the hub.
type Dispatcher struct {
	hub         *Hub
	queue       *Queue
	sim         *Simulator
	logger      *slog.Logger
	observer    Observer
	allowedPins []int
	now         func() time.Time

	// catalogMu serializes check-then-write catalog mutations.
	catalogMu sync.Mutex
}

// NewDispatcher creates a dispatcher. A simulator is attached when the hub
// is in mock mode.
func NewDispatcher(hub *Hub, queue *Queue, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		hub:         hub,
		queue:       queue,
		logger:      logger.With("component", "dispatcher"),
		observer:    nopObserver{},
		allowedPins: slices.Clone(DefaultAllowedPins),
		now:         time.Now,
	}
	if hub.Mock() {
		d.sim = NewSimulator(hub)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Hub() *Hub     { return d.hub }
func (d *Dispatcher) Queue() *Queue { return d.queue }

// AllowedPins returns the pins catalog entries may use.
func (d *Dispatcher) AllowedPins() []int { return slices.Clone(d.allowedPins) }

// ValidPin reports whether pin is an allowed output.
func (d *Dispatcher) ValidPin(pin int) bool { return slices.Contains(d.allowedPins, pin) }

// Dispatch handles one command.
func (d *Dispatcher) Dispatch(cmd Command) (*Result, error) {
	if cmd == nil {
		return nil, fail(CodeInvalidBody)
	}
	res, err := d.dispatch(cmd)
	d.record(cmd.Action(), err)
	return res, err
}

func (d *Dispatcher) record(action Action, err error) {
	code := CodeOf(err)
	d.observer.ObserveCommand(action, code)
	switch code {
	case CodeOK:
		d.logger.Debug("command handled", "action", action)
	case CodeServerError:
		d.logger.Error("command failed", "action", action, "error", err)
	default:
		d.logger.Info("command rejected", "action", action, "code", code, "error", err)
	}
}

func (d *Dispatcher) dispatch(cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case GetStatus:
		return d.status()
	case AddLight:
		return d.addLight(c)
	case DeleteLight:
		return d.deleteLight(c)
	case Schedule:
		return d.schedule(c)
	case ScheduleMulti:
		return d.scheduleMulti(c)
	case SetLight:
		return d.setLight(c)
	default:
		return nil, Errorf(CodeInvalidBody, "unsupported command %T", cmd)
	}
}

func (d *Dispatcher) status() (*Result, error) {
	if d.sim != nil {
		if err := d.sim.Seed(); err != nil {
			return nil, err
		}
	}
	m, err := d.hub.Merged()
	if err != nil {
		return nil, err
	}
	return &Result{Status: &m}, nil
}

// forward delivers a live command to the controller side.
func (d *Dispatcher) forward(cmd Command) (*Result, error) {
	if d.sim != nil {
		if err := d.sim.Apply(cmd); err != nil {
			return nil, err
		}
		return d.status()
	}
	d.hub.Events().Publish(Event{Type: EventCommand, Payload: cmd})
	if d.hub.ControllerAttached() {
		return &Result{}, nil
	}
	d.queue.Enqueue(cmd)
	return &Result{Queued: true}, nil
}

// catalogChanged announces a catalog mutation and the resulting status.
func (d *Dispatcher) catalogChanged() {
	d.hub.PublishCatalog()
	d.hub.Republish()
}

func (d *Dispatcher) validateWindow(on, off string, enabled bool) error {
	if !schedule.ValidClock(on) || !schedule.ValidClock(off) {
		return Errorf(CodeInvalidInterval, "invalid time %q-%q", on, off)
	}
	if enabled && schedule.Normalize(on) == schedule.Normalize(off) {
		return Errorf(CodeInvalidInterval, "on and off are both %s", on)
	}
	return nil
}

// timeConflict reports whether another enabled entry on pin has a window
// overlapping any of ivs.
func timeConflict(lights []*store.Light, self string, pin int, ivs []schedule.Interval) bool {
	for _, l := range lights {
		if l.Name == self || l.Pin != pin || !l.ScheduleEnabled {
			continue
		}
		for _, a := range ivs {
			for _, b := range l.Intervals() {
				if hit, err := schedule.Overlaps(a, b); err == nil && hit {
					return true
				}
			}
		}
	}
	return false
}

func (d *Dispatcher) addLight(c AddLight) (*Result, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" || c.Pin == 0 {
		return nil, Errorf(CodeInvalidAddLight, "name and pin required")
	}
	if !d.ValidPin(c.Pin) {
		return nil, Errorf(CodeInvalidPin, "pin %d not in %v", c.Pin, d.allowedPins)
	}
	c.On, c.Off = schedule.Normalize(orDefault(c.On)), schedule.Normalize(orDefault(c.Off))
	if err := d.validateWindow(c.On, c.Off, c.ScheduleEnabled); err != nil {
		return nil, err
	}

	d.catalogMu.Lock()
	lights, err := d.hub.Catalog().List()
	if err != nil {
		d.catalogMu.Unlock()
		return nil, err
	}
	for _, l := range lights {
		if l.Name == c.Name {
			d.catalogMu.Unlock()
			return nil, Errorf(CodeNameExists, "light %s", c.Name)
		}
	}
	for _, l := range lights {
		if l.Pin == c.Pin {
			d.catalogMu.Unlock()
			return nil, Errorf(CodePinInUse, "pin %d held by %s", c.Pin, l.Name)
		}
	}

	entry := &store.Light{
		Name:            c.Name,
		Pin:             c.Pin,
		On:              c.On,
		Off:             c.Off,
		ScheduleEnabled: c.ScheduleEnabled,
		CreatedAt:       d.now().UnixMilli(),
	}
	err = d.hub.Catalog().Insert(entry)
	d.catalogMu.Unlock()
	if err != nil {
		return nil, err
	}

	if d.sim != nil {
		if err := d.sim.Apply(c); err != nil {
			return nil, err
		}
	}
	d.catalogChanged()
	res, err := d.status()
	if err != nil {
		return nil, err
	}
	res.Light = entry
	return res, nil
}

func (d *Dispatcher) deleteLight(c DeleteLight) (*Result, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, Errorf(CodeInvalidDeleteLight, "name required")
	}
	d.catalogMu.Lock()
	err := d.hub.Catalog().Delete(name)
	d.catalogMu.Unlock()
	if err != nil {
		return nil, err
	}
	if d.sim != nil {
		if err := d.sim.Apply(DeleteLight{Name: name}); err != nil {
			return nil, err
		}
	}
	d.catalogChanged()
	return d.status()
}

func (d *Dispatcher) setLight(c SetLight) (*Result, error) {
	if c.Target == "" {
		if c.Pin == 0 {
			return nil, Errorf(CodeInvalidBody, "target or pin required")
		}
		if !d.ValidPin(c.Pin) {
			return nil, Errorf(CodeInvalidPin, "pin %d not in %v", c.Pin, d.allowedPins)
		}
		lights, err := d.hub.Catalog().List()
		if err != nil {
			return nil, err
		}
		i := slices.IndexFunc(lights, func(l *store.Light) bool { return l.Pin == c.Pin })
		if i < 0 {
			return nil, Errorf(CodeNotFound, "no light on pin %d", c.Pin)
		}
		c.Target = lights[i].Name
	}
	return d.forward(c)
}

func (d *Dispatcher) schedule(c Schedule) (*Result, error) {
	if c.Target == "" {
		return nil, Errorf(CodeInvalidBody, "target required")
	}
	c.On, c.Off = schedule.Normalize(c.On), schedule.Normalize(c.Off)
	if err := d.validateWindow(c.On, c.Off, c.Enabled); err != nil {
		return nil, err
	}

	changed, err := d.updateCatalogSchedule(c.Target, []schedule.Interval{{On: c.On, Off: c.Off}}, c.Enabled, false)
	if err != nil && CodeOf(err) != CodeNotFound {
		return nil, err
	}
	if changed {
		d.catalogChanged()
	}
	return d.forward(c)
}

func (d *Dispatcher) scheduleMulti(c ScheduleMulti) (*Result, error) {
	if c.Target == "" {
		return nil, Errorf(CodeInvalidBody, "target required")
	}
	if len(c.Intervals) == 0 {
		return nil, Errorf(CodeInvalidInterval, "no intervals")
	}
	c.Intervals = slices.Clone(c.Intervals)
	for i, iv := range c.Intervals {
		if err := iv.Validate(); err != nil {
			return nil, &Error{Code: CodeInvalidInterval, Err: err}
		}
		c.Intervals[i] = schedule.Interval{On: schedule.Normalize(iv.On), Off: schedule.Normalize(iv.Off)}
	}
	if i, j, ok, _ := schedule.FirstOverlap(c.Intervals); ok {
		return nil, Errorf(CodeIntervalOverlap, "%s overlaps %s", c.Intervals[i], c.Intervals[j])
	}

	if _, err := d.updateCatalogSchedule(c.Target, c.Intervals, c.Enabled, true); err != nil {
		return nil, err
	}
	d.catalogChanged()
	return d.forward(c)
}

// updateCatalogSchedule stores ivs on the named entry. changed is false when
// the entry does not exist.
func (d *Dispatcher) updateCatalogSchedule(name string, ivs []schedule.Interval, enabled, multi bool) (changed bool, err error) {
	d.catalogMu.Lock()
	defer d.catalogMu.Unlock()

	lights, err := d.hub.Catalog().List()
	if err != nil {
		return false, err
	}
	i := slices.IndexFunc(lights, func(l *store.Light) bool { return l.Name == name })
	if i < 0 {
		return false, Errorf(CodeNotFound, "light %s", name)
	}
	if enabled && timeConflict(lights, name, lights[i].Pin, ivs) {
		return false, Errorf(CodePinTimeConflict, "pin %d schedule overlaps", lights[i].Pin)
	}
	_, err = d.hub.Catalog().Update(name, func(l *store.Light) error {
		l.On, l.Off = ivs[0].On, ivs[0].Off
		l.ScheduleEnabled = enabled
		if multi {
			l.Schedules = slices.Clone(ivs)
		} else {
			l.Schedules = nil
		}
		return nil
	})
	return err == nil, err
}

// UpdateLight applies a partial edit to a catalog entry.
func (d *Dispatcher) UpdateLight(name string, p LightPatch) (*store.Light, error) {
	l, err := d.updateLight(name, p)
	d.record(ActionUpdateLight, err)
	return l, err
}

func (d *Dispatcher) updateLight(name string, p LightPatch) (*store.Light, error) {
	if p.Pin == nil && p.On == nil && p.Off == nil && p.ScheduleEnabled == nil {
		return nil, fail(CodeNoUpdates)
	}
	if p.Pin != nil && !d.ValidPin(*p.Pin) {
		return nil, Errorf(CodeInvalidPin, "pin %d not in %v", *p.Pin, d.allowedPins)
	}
	for _, s := range []*string{p.On, p.Off} {
		if s != nil && !schedule.ValidClock(*s) {
			return nil, Errorf(CodeInvalidInterval, "invalid time %q", *s)
		}
	}

	d.catalogMu.Lock()
	lights, err := d.hub.Catalog().List()
	if err != nil {
		d.catalogMu.Unlock()
		return nil, err
	}
	updated, err := d.hub.Catalog().Update(name, func(l *store.Light) error {
		if p.Pin != nil {
			for _, other := range lights {
				if other.Name != l.Name && other.Pin == *p.Pin {
					return Errorf(CodePinInUse, "pin %d held by %s", *p.Pin, other.Name)
				}
			}
			l.Pin = *p.Pin
		}
		if p.On != nil {
			l.On = schedule.Normalize(*p.On)
			l.Schedules = nil
		}
		if p.Off != nil {
			l.Off = schedule.Normalize(*p.Off)
			l.Schedules = nil
		}
		if p.ScheduleEnabled != nil {
			l.ScheduleEnabled = *p.ScheduleEnabled
		}
		if err := d.validateWindow(orDefault(l.On), orDefault(l.Off), l.ScheduleEnabled); err != nil {
			return err
		}
		if l.ScheduleEnabled && timeConflict(lights, l.Name, l.Pin, l.Intervals()) {
			return Errorf(CodePinTimeConflict, "pin %d schedule overlaps", l.Pin)
		}
		return nil
	})
	d.catalogMu.Unlock()
	if err != nil {
		return nil, err
	}
	d.catalogChanged()
	return updated, nil
}
