//go:build !no_automation

package automation

import (
	"github.com/KongGithubDev/LightLink/internal/schedule"

	lua "github.com/yuin/gopher-lua"
)

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, e *Engine, capture func(string)) {
	mod := L.NewTable()

	mod.RawSetString("datetime", L.NewFunction(func(L *lua.LState) int {
		return systemDatetime(L, e)
	}))

	mod.RawSetString("time_between", L.NewFunction(func(L *lua.LState) int {
		return systemTimeBetween(L, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return systemLog(L, e, capture)
	}))

	L.SetGlobal("system", mod)
}

// system.datetime(component) returns a date/time component
func systemDatetime(L *lua.LState, e *Engine) int {
	component := L.CheckString(1)
	now := e.now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between("HH:MM", "HH:MM") reports whether the current time is
// inside the daily window. Windows may wrap past midnight.
func systemTimeBetween(L *lua.LState, e *Engine) int {
	iv := schedule.Interval{On: L.CheckString(1), Off: L.CheckString(2)}
	if err := iv.Validate(); err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	L.Push(lua.LBool(iv.Active(e.now())))
	return 1
}

// system.log(level, msg)
func systemLog(L *lua.LState, e *Engine, capture func(string)) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	switch level {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	if capture != nil {
		capture("[" + level + "] " + msg)
	}
	return 0
}
