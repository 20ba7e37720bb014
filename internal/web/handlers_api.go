package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "lightlink",
		"mock":    s.hub.Mock(),
		"time":    time.Now().UnixMilli(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// snapshot returns the merged status, seeding the simulator in mock mode.
func (s *Server) snapshot() (*core.MergedStatus, error) {
	res, err := s.dispatcher.Dispatch(core.GetStatus{})
	if err != nil {
		return nil, err
	}
	return res.Status, nil
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePostStatus(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := core.DecodeStatus(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stored, err := s.hub.SetStatus(st)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updatedAt": stored.UpdatedAt})
}

type cmdResponse struct {
	OK bool `json:"ok"`
	*core.Result
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cmd, env, err := core.DecodeCommand(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.hub.Mock() {
		if err := s.guard.Check(env.Nonce, env.TS); err != nil {
			s.logger.Warn("command envelope rejected", "action", cmd.Action(), "code", core.CodeOf(err))
			s.writeError(w, err)
			return
		}
	}
	res, err := s.dispatcher.Dispatch(cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmdResponse{OK: true, Result: res})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"cmds": s.dispatcher.Queue().Drain()})
}

func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	lights, err := s.hub.Catalog().List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if lights == nil {
		lights = []*store.Light{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lights": lights})
}

// handleDeviceLights serves the normalized catalog controllers load their
// switch table from.
func (s *Server) handleDeviceLights(w http.ResponseWriter, r *http.Request) {
	lights, err := s.hub.CatalogLights()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lights": lights})
}

type createLightRequest struct {
	Name            string `json:"name"`
	Pin             int    `json:"pin"`
	On              string `json:"on"`
	Off             string `json:"off"`
	ScheduleEnabled bool   `json:"scheduleEnabled"`
}

func (s *Server) handleCreateLight(w http.ResponseWriter, r *http.Request) {
	var req createLightRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.dispatcher.Dispatch(core.AddLight{
		Name:            req.Name,
		Pin:             req.Pin,
		On:              req.On,
		Off:             req.Off,
		ScheduleEnabled: req.ScheduleEnabled,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "light": res.Light})
}

func (s *Server) handleUpdateLight(w http.ResponseWriter, r *http.Request) {
	var patch core.LightPatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	l, err := s.dispatcher.UpdateLight(r.PathValue("name"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "light": l})
}

func (s *Server) handleDeleteLight(w http.ResponseWriter, r *http.Request) {
	if _, err := s.dispatcher.Dispatch(core.DeleteLight{Name: r.PathValue("name")}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// readBody reads a size-limited request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.Errorf(core.CodeInvalidBody, "read body: %v", err)
	}
	return data, nil
}

// decodeBody decodes a JSON request body into v. Malformed JSON is
// invalid_json; well-formed JSON of the wrong shape is invalid_body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return core.Errorf(core.CodeInvalidBody, "decode body: %v", err)
		}
		return core.Errorf(core.CodeInvalidJSON, "decode body: %v", err)
	}
	return nil
}

// writeError writes {"error": code} with the code's HTTP status. Rejected
// pins also list the allowed ones.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	body := map[string]any{"error": code}
	switch code {
	case core.CodeInvalidPin:
		body["allowed"] = s.dispatcher.AllowedPins()
	case core.CodeServerError:
		s.logger.Error("request failed", "err", err)
	}
	s.writeJSON(w, core.HTTPStatus(code), body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
