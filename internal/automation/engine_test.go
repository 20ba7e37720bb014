//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/store"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEngine returns an engine over a mock-mode dispatcher.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := store.NewBoltCatalog(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	hub := core.NewHub(core.NewCache(), core.NewBroadcaster(testLogger()), cat, testLogger(), true)
	d := core.NewDispatcher(hub, core.NewQueue(), testLogger())
	// A status query seeds the mock controller.
	if _, err := d.Dispatch(core.GetStatus{}); err != nil {
		t.Fatal(err)
	}
	return NewEngine(d, newTestManager(t), testLogger())
}

func liveState(t *testing.T, e *Engine, name string) bool {
	t.Helper()
	st, ok := e.dispatcher.Hub().Cache().Get()
	if !ok {
		t.Fatal("no cached status")
	}
	for _, l := range st.Lights {
		if l.Name == name {
			return l.State
		}
	}
	t.Fatalf("light %q not in status", name)
	return false
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := goToLua(L, tt.val)
			if result.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, result.Type(), tt.want)
			}
		})
	}
}

func TestMatchesHandler(t *testing.T) {
	tests := []struct {
		name    string
		handler luaEventHandler
		event   luaEvent
		want    bool
	}{
		{"type only", luaEventHandler{eventType: "status"}, luaEvent{Type: "status"}, true},
		{"wrong type", luaEventHandler{eventType: "light"}, luaEvent{Type: "status"}, false},
		{"name match", luaEventHandler{eventType: "light", name: "kitchen"}, luaEvent{Type: "light", Name: "kitchen"}, true},
		{"name case", luaEventHandler{eventType: "light", name: "Kitchen"}, luaEvent{Type: "light", Name: "kitchen"}, true},
		{"name mismatch", luaEventHandler{eventType: "light", name: "porch"}, luaEvent{Type: "light", Name: "kitchen"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.handler, tt.event); got != tt.want {
				t.Errorf("matchesHandler() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslateLightChanges(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())

	status := func(kitchen, office bool) core.Event {
		return core.Event{Type: core.EventStatus, Payload: core.MergedStatus{
			Device: "d",
			Lights: []core.MergedLight{
				{Name: "kitchen", State: kitchen},
				{Name: "office", State: office},
			},
		}}
	}
	changed := func(evs []luaEvent) []string {
		var names []string
		for _, ev := range evs {
			if ev.Type == EventLight {
				names = append(names, ev.Name)
			}
		}
		return names
	}

	steps := []struct {
		kitchen, office bool
		want            []string
	}{
		{true, false, []string{"kitchen"}},
		{true, true, []string{"office"}},
		{true, true, nil},
		{false, true, []string{"kitchen"}},
	}
	for i, s := range steps {
		evs := e.translate(status(s.kitchen, s.office))
		if evs[0].Type != core.EventStatus {
			t.Fatalf("step %d: first event = %s", i, evs[0].Type)
		}
		got := changed(evs)
		if len(got) != len(s.want) {
			t.Fatalf("step %d: changed = %v, want %v", i, got, s.want)
		}
		for j := range got {
			if got[j] != s.want[j] {
				t.Errorf("step %d: changed = %v, want %v", i, got, s.want)
			}
		}
	}
}

func TestTranslateCommandEvent(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())
	on := true
	evs := e.translate(core.Event{Type: core.EventCommand, Payload: core.SetLight{Target: "kitchen", State: &on}})
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].Data["action"] != "set" || evs[0].Data["target"] != "kitchen" {
		t.Errorf("data = %v", evs[0].Data)
	}
}

func TestRunLuaCodeSetsLight(t *testing.T) {
	e := newTestEngine(t)

	res := e.RunLuaCode(`
local ok = lightlink.set("kitchen", true)
lightlink.log(tostring(ok))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "true" {
		t.Errorf("logs = %v", res.Logs)
	}
	if !liveState(t, e, "kitchen") {
		t.Error("kitchen still off")
	}
}

func TestRunLuaCodeReportsRejection(t *testing.T) {
	e := newTestEngine(t)

	res := e.RunLuaCode(`
local ok, code = lightlink.set("ghost", true)
lightlink.log(tostring(ok) .. " " .. code)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "false not_found" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeReadsLights(t *testing.T) {
	e := newTestEngine(t)

	res := e.RunLuaCode(`
local l = lightlink.get("bedroom")
lightlink.log(l.on .. "-" .. l.off)
lightlink.log(tostring(#lightlink.lights()))
lightlink.log(tostring(lightlink.get("ghost")))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"21:00-07:00", "3", "nil"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %v, want %v", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("logs[%d] = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e := newTestEngine(t)

	res := e.RunLuaCode(`
lightlink.on("light", {name="kitchen"}, function(ev)
  lightlink.log(ev.name .. " " .. tostring(ev.state))
end)
lightlink.on("status", function(ev) lightlink.log(ev.type) end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "kitchen true" || res.Logs[1] != "status" {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		code string
	}{
		{"syntax", `lightlink.log(`},
		{"sandboxed os", `os.exit(1)`},
		{"sandboxed io", `io.open("/etc/passwd")`},
		{"handler error", `lightlink.on("light", function(ev) error("boom") end)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.RunLuaCode(tt.code)
			if res.OK || res.Error == "" {
				t.Errorf("result = %+v, want failure", res)
			}
		})
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	e := newTestEngine(t)
	res := e.RunLuaCode(`while true do end`)
	if res.OK || res.Error != "timeout (5s)" {
		t.Errorf("result = %+v", res)
	}
}

func TestEngineReactsToLightEvent(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Manager().Save(&Script{
		Meta: ScriptMeta{Name: "Follow kitchen", Enabled: true},
		LuaCode: `
lightlink.on("light", {name="kitchen"}, function(ev)
  lightlink.set("living", ev.state)
end)`,
	})
	if err != nil {
		t.Fatal(err)
	}

	e.Start()
	defer e.Stop()
	if !e.Running("follow_kitchen") {
		t.Fatal("script not running")
	}

	on := true
	if _, err := e.dispatcher.Dispatch(core.SetLight{Target: "kitchen", State: &on}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !liveState(t, e, "living") {
		if time.Now().After(deadline) {
			t.Fatal("living did not follow kitchen")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReloadScript(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Manager().Save(&Script{
		Meta:    ScriptMeta{Name: "idle", Enabled: true},
		LuaCode: `lightlink.on("status", function(ev) end)`,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if !e.Running(s.ID) {
		t.Fatal("script not running after reload")
	}

	s.Meta.Enabled = false
	if _, err := e.Manager().Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if e.Running(s.ID) {
		t.Error("disabled script still running")
	}

	if err := e.ReloadScript("missing"); err == nil {
		t.Error("expected error for missing script")
	}
	e.Stop()
}

func TestStartSkipsBrokenScripts(t *testing.T) {
	e := newTestEngine(t)
	for _, s := range []*Script{
		{Meta: ScriptMeta{Name: "broken", Enabled: true}, LuaCode: `lightlink.on(`},
		{Meta: ScriptMeta{Name: "good", Enabled: true}, LuaCode: `lightlink.on("status", function(ev) end)`},
	} {
		if _, err := e.Manager().Save(s); err != nil {
			t.Fatal(err)
		}
	}

	e.Start()
	defer e.Stop()
	if e.Running("broken") || !e.Running("good") {
		t.Errorf("running broken=%v good=%v", e.Running("broken"), e.Running("good"))
	}
}
