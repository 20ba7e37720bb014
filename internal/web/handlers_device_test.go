package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"

	"github.com/gorilla/websocket"
)

func dialDevice(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) core.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		var f core.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeviceSocketRequiresToken(t *testing.T) {
	srv, _ := setupTestServer(t, false, WithToken("secret"))
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Stop()

	_, resp, err := dialDevice(t, ts, "")
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}

	conn, _, err := dialDevice(t, ts, "?token=secret")
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

func TestDeviceSocketControllerLink(t *testing.T) {
	srv, d := setupTestServer(t, false)
	if _, err := d.Dispatch(core.AddLight{Name: "kitchen", Pin: 19}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Stop()

	conn, _, err := dialDevice(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f := readUntil(t, conn, core.EventCatalog)
	var catalog struct {
		Lights []map[string]any `json:"lights"`
	}
	if err := json.Unmarshal(f.Payload, &catalog); err != nil {
		t.Fatal(err)
	}
	if len(catalog.Lights) != 1 || catalog.Lights[0]["name"] != "kitchen" {
		t.Errorf("catalog = %s", f.Payload)
	}
	if !d.Hub().ControllerAttached() {
		t.Fatal("controller should be attached")
	}

	res, err := d.Dispatch(core.SetLight{Target: "kitchen", State: boolPtr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued {
		t.Error("command queued while a controller is attached")
	}
	f = readUntil(t, conn, core.EventCommand)
	var cmd map[string]any
	if err := json.Unmarshal(f.Payload, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd["action"] != "set" || cmd["target"] != "kitchen" || cmd["state"] != true {
		t.Errorf("forwarded command = %v", cmd)
	}

	status := `{"type":"status","payload":{"device":"esp32","lights":[{"name":"kitchen","state":true}]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(status)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "cached status", func() bool {
		st, ok := d.Hub().Cache().Get()
		return ok && st.Device == "esp32"
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte("nope")); err != nil {
		t.Fatal(err)
	}
	f = readUntil(t, conn, "error")
	if !strings.Contains(string(f.Payload), string(core.CodeInvalidJSON)) {
		t.Errorf("error payload = %s", f.Payload)
	}

	conn.Close()
	waitFor(t, "controller detach", func() bool { return !d.Hub().ControllerAttached() })

	res, err = d.Dispatch(core.SetLight{Target: "kitchen", State: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Error("command should be queued once the controller is gone")
	}
}

func TestDeviceSocketUnsubscribesOnClose(t *testing.T) {
	srv, d := setupTestServer(t, false)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Stop()

	events := d.Hub().Events()
	baseline := events.Len()

	for i := 0; i < 3; i++ {
		conn, _, err := dialDevice(t, ts, "")
		if err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, core.EventCatalog)
		waitFor(t, "device subscribe", func() bool { return events.Len() == baseline+1 })
		conn.Close()
		waitFor(t, "device unsubscribe", func() bool { return events.Len() == baseline })
		waitFor(t, "controller detach", func() bool { return !d.Hub().ControllerAttached() })
	}
}

func TestDeviceSocketCommandFrame(t *testing.T) {
	srv, _ := setupTestServer(t, true)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Stop()

	conn, _, err := dialDevice(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame := `{"type":"cmd","payload":{"action":"toggle","target":"bedroom"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
	f := readUntil(t, conn, core.EventAck)
	var ack core.AckPayload
	if err := json.Unmarshal(f.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.OK {
		t.Errorf("ack = %+v", ack)
	}
}

func boolPtr(b bool) *bool { return &b }
