package web

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KongGithubDev/LightLink/internal/automation"
	"github.com/KongGithubDev/LightLink/internal/core"
)

func setupAutomationServer(t *testing.T) (*Server, *automation.Engine) {
	t.Helper()
	d := newTestDispatcher(t, true)
	mgr, err := automation.NewManager(filepath.Join(t.TempDir(), "scripts"))
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(d, mgr, testLogger())
	engine.Start()
	t.Cleanup(engine.Stop)
	return newTestServer(t, d, WithAutomation(engine)), engine
}

func TestAPIAutomationLifecycle(t *testing.T) {
	srv, engine := setupAutomationServer(t)

	body := `{"name":"Evening Lights","lua_code":"lightlink.on(\"light\", function(e) end)","enabled":true}`
	w := doRequest(srv, "POST", "/api/automations", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created automation.Script
	if err := jsonDecode(w, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "evening_lights" {
		t.Errorf("id = %q", created.ID)
	}
	if !engine.Running(created.ID) {
		t.Error("enabled script should be running")
	}

	w = doRequest(srv, "GET", "/api/automations", "")
	var list []automation.Script
	if err := jsonDecode(w, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	w = doRequest(srv, "POST", "/api/automations/"+created.ID+"/toggle", "")
	var toggled automation.Script
	if err := jsonDecode(w, &toggled); err != nil {
		t.Fatal(err)
	}
	if toggled.Meta.Enabled || engine.Running(created.ID) {
		t.Error("toggle should disable and stop the script")
	}

	w = doRequest(srv, "PUT", "/api/automations/"+created.ID, `{"name":"Evening Lights","lua_code":"","enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	if !engine.Running(created.ID) {
		t.Error("re-enabled script should be running")
	}

	w = doRequest(srv, "DELETE", "/api/automations/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	if engine.Running(created.ID) {
		t.Error("deleted script still running")
	}

	w = doRequest(srv, "GET", "/api/automations/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIAutomationErrors(t *testing.T) {
	srv, _ := setupAutomationServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", "POST", "/api/automations", `{"lua_code":""}`, http.StatusBadRequest},
		{"unsafe id", "GET", "/api/automations/a..b", "", http.StatusBadRequest},
		{"unknown id", "GET", "/api/automations/nope", "", http.StatusNotFound},
		{"delete unknown", "DELETE", "/api/automations/nope", "", http.StatusNotFound},
		{"toggle unknown", "POST", "/api/automations/nope/toggle", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := doRequest(srv, tt.method, tt.path, tt.body)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d, body = %s", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestAPIRunInlineAutomation(t *testing.T) {
	srv, _ := setupAutomationServer(t)

	code, _ := json.Marshal(map[string]string{
		"lua_code": `local ok = lightlink.set("kitchen", true) lightlink.log(tostring(ok))`,
	})
	w := doRequest(srv, "POST", "/api/automations/_inline/run", string(code))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res automation.RunResult
	if err := jsonDecode(w, &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Logs) != 1 || !strings.Contains(res.Logs[0], "true") {
		t.Errorf("result = %+v", res)
	}

	w = doRequest(srv, "GET", "/api/status", "")
	var st core.MergedStatus
	if err := jsonDecode(w, &st); err != nil {
		t.Fatal(err)
	}
	for _, l := range st.Lights {
		if l.Name == "kitchen" && !l.State {
			t.Error("kitchen should be on after the script ran")
		}
	}
}

func TestAPIAutomationsWithoutEngine(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	w := doRequest(srv, "GET", "/api/automations", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}
	w = doRequest(srv, "POST", "/api/automations/_inline/run", `{"lua_code":""}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("run status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
