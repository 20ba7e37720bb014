//go:build !no_automation

package automation

import (
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"

	lua "github.com/yuin/gopher-lua"
)

// registerLightlinkModule registers the `lightlink` global table in a Lua
// state. When capture is non-nil, lightlink.log lines are passed to it as
// well as logged.
func registerLightlinkModule(L *lua.LState, vm *scriptVM, e *Engine, capture func(string)) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return lightlinkOn(L, vm)
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		state := L.CheckBool(2)
		return dispatch(L, e, core.SetLight{Target: L.CheckString(1), State: &state})
	}))

	mod.RawSetString("toggle", L.NewFunction(func(L *lua.LState) int {
		return dispatch(L, e, core.SetLight{Toggle: true, Target: L.CheckString(1)})
	}))

	mod.RawSetString("schedule", L.NewFunction(func(L *lua.LState) int {
		return dispatch(L, e, core.Schedule{
			Target:  L.CheckString(1),
			On:      L.CheckString(2),
			Off:     L.CheckString(3),
			Enabled: L.OptBool(4, true),
		})
	}))

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		return lightlinkGet(L, e)
	}))

	mod.RawSetString("lights", L.NewFunction(func(L *lua.LState) int {
		return lightlinkLights(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return lightlinkAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		e.logger.Info("script log", "msg", msg)
		if capture != nil {
			capture(msg)
		}
		return 0
	}))

	L.SetGlobal("lightlink", mod)
}

const maxHandlersPerScript = 100

// lightlink.on(type, [filter], callback)
func lightlinkOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	if fn, ok := L.Get(2).(*lua.LFunction); ok {
		h.fn = fn
	} else {
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := filter.RawGetString("name"); v != lua.LNil {
			h.name = v.String()
		}
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// dispatch runs cmd and returns (true) or (false, code) to Lua.
func dispatch(L *lua.LState, e *Engine, cmd core.Command) int {
	if _, err := e.dispatcher.Dispatch(cmd); err != nil {
		e.logger.Warn("script command rejected", "action", cmd.Action(), "code", core.CodeOf(err))
		L.Push(lua.LFalse)
		L.Push(lua.LString(core.CodeOf(err)))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func lightTable(L *lua.LState, l core.MergedLight) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("name", lua.LString(l.Name))
	t.RawSetString("state", lua.LBool(l.State))
	t.RawSetString("on", lua.LString(l.On))
	t.RawSetString("off", lua.LString(l.Off))
	t.RawSetString("scheduleEnabled", lua.LBool(l.ScheduleEnabled))
	if l.Pin != 0 {
		t.RawSetString("pin", lua.LNumber(l.Pin))
	}
	return t
}

// lightlink.get(name) returns the merged light or nil.
func lightlinkGet(L *lua.LState, e *Engine) int {
	name := L.CheckString(1)
	m, err := e.dispatcher.Hub().Merged()
	if err != nil {
		e.logger.Error("script get", "err", err)
		L.Push(lua.LNil)
		return 1
	}
	for _, l := range m.Lights {
		if l.Name == name {
			L.Push(lightTable(L, l))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

// lightlink.lights() returns every merged light.
func lightlinkLights(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	m, err := e.dispatcher.Hub().Merged()
	if err != nil {
		e.logger.Error("script lights", "err", err)
		L.Push(tbl)
		return 1
	}
	for i, l := range m.Lights {
		tbl.RawSetInt(i+1, lightTable(L, l))
	}
	L.Push(tbl)
	return 1
}

// lightlink.after(seconds, callback)
func lightlinkAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}
