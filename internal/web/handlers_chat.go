package web

import (
	"net/http"
	"strings"

	"github.com/KongGithubDev/LightLink/internal/chat"
	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/intent"
)

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

type chatResult struct {
	Intent intent.Intent `json:"intent"`
	OK     bool          `json:"ok"`
	Error  core.Code     `json:"error,omitempty"`
	Queued bool          `json:"queued,omitempty"`
}

type chatResponse struct {
	Reply   string          `json:"reply"`
	Intents []intent.Intent `json:"intents"`
	Results []chatResult    `json:"results"`
}

// handleChat answers a chat message. The generator's reply is scanned for
// command lines (falling back to the user's message), every recognised
// command is dispatched, and the reply falls back to a local one when the
// generator is unavailable.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, core.Errorf(core.CodeInvalidBody, "message is required"))
		return
	}

	var reply string
	if s.chat != nil {
		var err error
		reply, err = s.chat.Reply(r.Context(), req.Message, req.History)
		if err != nil {
			s.logger.Warn("chat generator failed, replying locally", "err", err)
			reply = ""
		}
	}

	intents := intent.ParseReply(reply, req.Message)
	resp := chatResponse{Intents: intents, Results: []chatResult{}}
	var lines []string
	for _, in := range intents {
		cmd, ok := in.Command()
		if !ok {
			continue
		}
		res, err := s.dispatcher.Dispatch(cmd)
		result := chatResult{Intent: in, OK: err == nil}
		if err != nil {
			result.Error = core.CodeOf(err)
			lines = append(lines, in.Line()+" ("+string(result.Error)+")")
		} else {
			result.Queued = res.Queued
			lines = append(lines, in.Line())
		}
		resp.Results = append(resp.Results, result)
	}

	resp.Reply = reply
	if resp.Reply == "" {
		resp.Reply = chat.LocalReply(lines)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
