package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/KongGithubDev/LightLink/internal/chat"
	"github.com/KongGithubDev/LightLink/internal/core"
)

type fakeGenerator struct {
	reply   string
	err     error
	message string
	history []chat.Message
}

func (f *fakeGenerator) Reply(_ context.Context, message string, history []chat.Message) (string, error) {
	f.message = message
	f.history = history
	return f.reply, f.err
}

func postChat(t *testing.T, srv *Server, body string) (int, chatResponse) {
	t.Helper()
	w := doRequest(srv, "POST", "/api/chat", body)
	var resp chatResponse
	if w.Code == http.StatusOK {
		if err := jsonDecode(w, &resp); err != nil {
			t.Fatal(err)
		}
	}
	return w.Code, resp
}

func TestChatDispatchesReplyCommands(t *testing.T) {
	gen := &fakeGenerator{reply: "Sure!\nTURN ON LIGHT NAME kitchen"}
	srv, d := setupTestServer(t, true, WithChat(gen))

	code, resp := postChat(t, srv, `{"message":"lights please","history":[{"role":"user","content":"hi"}]}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if gen.message != "lights please" || len(gen.history) != 1 {
		t.Errorf("generator got %q %+v", gen.message, gen.history)
	}
	if resp.Reply != gen.reply {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Results) != 1 || !resp.Results[0].OK {
		t.Fatalf("results = %+v", resp.Results)
	}

	m, err := d.Hub().Merged()
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range m.Lights {
		if l.Name == "kitchen" && !l.State {
			t.Error("kitchen should be on")
		}
	}
}

func TestChatFallsBackToLocalReply(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream down")}
	srv, _ := setupTestServer(t, true, WithChat(gen))

	code, resp := postChat(t, srv, `{"message":"turn off living"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Reply != "TURN OFF LIGHT NAME living" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Results) != 1 || !resp.Results[0].OK {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestChatReportsFailedCommands(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	code, resp := postChat(t, srv, `{"message":"add light porch pin 5"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Results) != 1 || resp.Results[0].OK || resp.Results[0].Error != core.CodeInvalidPin {
		t.Fatalf("results = %+v", resp.Results)
	}
	if !strings.HasSuffix(resp.Reply, "(invalid_pin)") {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestChatSmallTalk(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	code, resp := postChat(t, srv, `{"message":"hello there"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %+v, want none", resp.Results)
	}
	if resp.Reply != chat.LocalReply(nil) {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	for _, body := range []string{`{}`, `{"message":"   "}`} {
		w := doRequest(srv, "POST", "/api/chat", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}
