//go:build !no_automation

package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"

	lua "github.com/yuin/gopher-lua"
)

// EventLight fires once per switch whose state changed. Scripts also see
// the broadcast event types (status, cmd, catalog) unchanged.
const EventLight = "light"

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEvent is a broadcast event translated for scripts.
type luaEvent struct {
	Type string
	Name string // light name for light events
	Data map[string]any
}

// luaEventHandler is a registered Lua callback for a specific event pattern.
type luaEventHandler struct {
	eventType string
	name      string // filter: only match this light (empty = any)
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs Lua scripts that react to broadcast events and switch lights
// through the dispatcher.
type Engine struct {
	dispatcher *core.Dispatcher
	manager    *Manager
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	vms    map[string]*scriptVM // script ID -> running VM
	states map[string]bool      // last seen state per light
	unsub  func()
}

// NewEngine creates a new automation engine.
func NewEngine(d *core.Dispatcher, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		dispatcher: d,
		manager:    mgr,
		logger:     logger.With("component", "automation"),
		now:        time.Now,
		vms:        make(map[string]*scriptVM),
		states:     make(map[string]bool),
	}
}

// Manager returns the script store backing the engine.
func (e *Engine) Manager() *Manager { return e.manager }

// Start subscribes to broadcast events and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.dispatcher.Hub().Events().Subscribe(e)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	started := 0
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
			continue
		}
		started++
	}

	e.logger.Info("automation engine started", "scripts", started)
}

// Stop cancels all VMs and unsubscribes from broadcasts.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}

	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}

	e.logger.Info("automation engine stopped")
}

// Running reports whether the script with id has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}

	if !s.Meta.Enabled {
		return nil
	}

	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()

	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}

	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary sandboxed VM. Handlers the code
// registers with lightlink.on are invoked once with a synthetic event, so
// their actions run too. Log output is captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	var logs []string
	var logMu sync.Mutex
	capture := func(line string) {
		logMu.Lock()
		logs = append(logs, line)
		logMu.Unlock()
	}

	registerLightlinkModule(L, vm, e, capture)
	registerSystemModule(L, e, capture)

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script", "err", err)
		return &RunResult{OK: false, Error: runError(err), Logs: logs, Duration: time.Since(start).String()}
	}

	vm.mu.Lock()
	handlers := make([]luaEventHandler, len(vm.handlers))
	copy(handlers, vm.handlers)
	vm.mu.Unlock()

	for i, h := range handlers {
		ev := luaEvent{Type: h.eventType, Name: h.name, Data: map[string]any{"state": true}}
		if h.name != "" {
			ev.Data["name"] = h.name
		}
		if err := e.callHandler(L, h.fn, ev); err != nil {
			e.logger.Warn("run script handler", "index", i, "err", err)
			return &RunResult{OK: false, Error: runError(err), Logs: logs, Duration: time.Since(start).String()}
		}
	}

	dur := time.Since(start)
	e.logger.Debug("script run complete", "logs", len(logs), "duration", dur)
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

func runError(err error) string {
	s := err.Error()
	if strings.Contains(s, "context deadline exceeded") {
		return "timeout (5s)"
	}
	return s
}

// newSandbox returns a Lua state without file, process or module loading
// access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandbox()
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	registerLightlinkModule(L, vm, e, nil)
	registerSystemModule(L, e, nil)

	// Top-level code registers handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// Deliver implements core.Subscriber. It never blocks: events for a VM
// whose queue is full are dropped.
func (e *Engine) Deliver(ev core.Event) error {
	events := e.translate(ev)

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, le := range events {
			for _, h := range handlers {
				if !matchesHandler(h, le) {
					continue
				}
				fn, le := h.fn, le
				select {
				case <-vm.ctx.Done():
				case vm.commands <- func(L *lua.LState) {
					if err := e.callHandler(L, fn, le); err != nil {
						e.logger.Error("lua handler error", "event", le.Type, "err", err)
					}
				}:
				default:
					e.logger.Warn("script command channel full, dropping event", "event", le.Type)
				}
			}
		}
	}
	return nil
}

// translate turns a broadcast event into the events scripts see. A status
// event also yields one light event per switch whose state changed.
func (e *Engine) translate(ev core.Event) []luaEvent {
	m, ok := ev.Payload.(core.MergedStatus)
	if ev.Type != core.EventStatus || !ok {
		return []luaEvent{{Type: ev.Type, Data: toMap(ev.Payload)}}
	}

	out := []luaEvent{{Type: ev.Type, Data: toMap(m)}}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range m.Lights {
		prev, seen := e.states[l.Name]
		e.states[l.Name] = l.State
		// A switch seen for the first time only counts when it is on.
		if (seen && prev == l.State) || (!seen && !l.State) {
			continue
		}
		out = append(out, luaEvent{
			Type: EventLight,
			Name: l.Name,
			Data: map[string]any{
				"name":     l.Name,
				"state":    l.State,
				"previous": prev,
				"pin":      l.Pin,
			},
		})
	}
	return out
}

// toMap converts a payload to the generic form goToLua understands.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"value": string(data)}
	}
	return out
}

func matchesHandler(h luaEventHandler, ev luaEvent) bool {
	if h.eventType != ev.Type {
		return false
	}
	return h.name == "" || strings.EqualFold(h.name, ev.Name)
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, ev luaEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua handler panic: %v", r)
		}
	}()

	tbl := L.NewTable()
	for k, v := range ev.Data {
		tbl.RawSetString(k, goToLua(L, v))
	}
	tbl.RawSetString("type", lua.LString(ev.Type))

	return L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, tbl)
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
