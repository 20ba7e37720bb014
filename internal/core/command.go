package core

import (
	"encoding/json"
	"strings"

	"github.com/KongGithubDev/LightLink/internal/schedule"
)

// Action names a command kind on the wire.
type Action string

const (
	ActionSet           Action = "set"
	ActionToggle        Action = "toggle"
	ActionSchedule      Action = "schedule"
	ActionScheduleMulti Action = "schedule_multi"
	ActionAddLight      Action = "add_light"
	ActionDeleteLight   Action = "delete_light"
	ActionGetStatus     Action = "get_status"
)

// TargetAll addresses every switch in a set or toggle command.
const TargetAll = "all"

// Command is one of the command types below. The set is closed.
type Command interface {
	Action() Action
	isCommand()
}

// SetLight switches a light by name, by pin, or every light when Target is
// TargetAll. A nil State flips the current state.
type SetLight struct {
	Toggle bool
	Target string
	Pin    int
	State  *bool
}

// Schedule sets the single daily window of a light.
type Schedule struct {
	Target  string
	On      string
	Off     string
	Enabled bool
}

// ScheduleMulti replaces the daily windows of a light with a list.
type ScheduleMulti struct {
	Target    string
	Intervals []schedule.Interval
	Enabled   bool
}

// AddLight creates a catalog entry.
type AddLight struct {
	Name            string
	Pin             int
	On              string
	Off             string
	ScheduleEnabled bool
}

// DeleteLight removes a catalog entry.
type DeleteLight struct {
	Name string
}

// GetStatus asks for the merged status.
type GetStatus struct{}

func (c SetLight) Action() Action {
	if c.Toggle {
		return ActionToggle
	}
	return ActionSet
}
func (Schedule) Action() Action      { return ActionSchedule }
func (ScheduleMulti) Action() Action { return ActionScheduleMulti }
func (AddLight) Action() Action      { return ActionAddLight }
func (DeleteLight) Action() Action   { return ActionDeleteLight }
func (GetStatus) Action() Action     { return ActionGetStatus }

func (SetLight) isCommand()      {}
func (Schedule) isCommand()      {}
func (ScheduleMulti) isCommand() {}
func (AddLight) isCommand()      {}
func (DeleteLight) isCommand()   {}
func (GetStatus) isCommand()     {}

// Envelope carries the replay-protection fields of an inbound command.
type Envelope struct {
	TS    int64
	Nonce string
}

// wireCommand is the JSON shape of a command in both directions.
type wireCommand struct {
	Action          string              `json:"action"`
	Target          string              `json:"target,omitempty"`
	Room            string              `json:"room,omitempty"`
	Name            string              `json:"name,omitempty"`
	Pin             *int                `json:"pin,omitempty"`
	State           *bool               `json:"state,omitempty"`
	On              *string             `json:"on,omitempty"`
	Off             *string             `json:"off,omitempty"`
	Enabled         *bool               `json:"enabled,omitempty"`
	ScheduleEnabled *bool               `json:"scheduleEnabled,omitempty"`
	Schedules       []schedule.Interval `json:"schedules,omitempty"`
	TS              int64               `json:"ts,omitempty"`
	Nonce           string              `json:"nonce,omitempty"`
}

func (c SetLight) MarshalJSON() ([]byte, error) {
	w := wireCommand{Action: string(c.Action()), Target: c.Target, State: c.State}
	if c.Pin != 0 {
		w.Pin = ptr(c.Pin)
	}
	return json.Marshal(w)
}

func (c Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{
		Action:  string(ActionSchedule),
		Target:  c.Target,
		Room:    c.Target,
		On:      ptr(c.On),
		Off:     ptr(c.Off),
		Enabled: ptr(c.Enabled),
	})
}

func (c ScheduleMulti) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{
		Action:    string(ActionScheduleMulti),
		Target:    c.Target,
		Schedules: c.Intervals,
		Enabled:   ptr(c.Enabled),
	})
}

func (c AddLight) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{
		Action:          string(ActionAddLight),
		Name:            c.Name,
		Pin:             ptr(c.Pin),
		On:              ptr(c.On),
		Off:             ptr(c.Off),
		ScheduleEnabled: ptr(c.ScheduleEnabled),
	})
}

func (c DeleteLight) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{Action: string(ActionDeleteLight), Name: c.Name})
}

func (GetStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{Action: string(ActionGetStatus)})
}

// DecodeCommand parses a JSON command and validates the fields its action
// requires. Syntax errors are invalid_json; structural problems are
// invalid_body or the action-specific code.
func DecodeCommand(data []byte) (Command, Envelope, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		if _, ok := err.(*json.SyntaxError); ok {
			return nil, Envelope{}, Errorf(CodeInvalidJSON, "decode command: %v", err)
		}
		return nil, Envelope{}, Errorf(CodeInvalidBody, "decode command: %v", err)
	}
	env := Envelope{TS: w.TS, Nonce: w.Nonce}
	cmd, err := w.command()
	return cmd, env, err
}

// target returns the first non-empty addressing field.
func (w *wireCommand) target() string {
	for _, s := range []string{w.Target, w.Room, w.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (w *wireCommand) command() (Command, error) {
	switch Action(w.Action) {
	case ActionSet, ActionToggle, "set_pin":
		c := SetLight{Toggle: Action(w.Action) == ActionToggle, Target: w.target(), State: w.State}
		if w.Pin != nil {
			c.Pin = *w.Pin
		}
		if c.Target == "" && c.Pin == 0 {
			return nil, Errorf(CodeInvalidBody, "%s: target or pin required", w.Action)
		}
		return c, nil

	case ActionSchedule:
		c := Schedule{Target: w.target(), Enabled: true}
		if c.Target == "" {
			return nil, Errorf(CodeInvalidBody, "schedule: target required")
		}
		if w.On == nil || w.Off == nil {
			return nil, Errorf(CodeInvalidInterval, "schedule: on and off required")
		}
		c.On, c.Off = schedule.Normalize(*w.On), schedule.Normalize(*w.Off)
		if w.Enabled != nil {
			c.Enabled = *w.Enabled
		} else if w.ScheduleEnabled != nil {
			c.Enabled = *w.ScheduleEnabled
		}
		return c, nil

	case ActionScheduleMulti:
		c := ScheduleMulti{Target: w.target(), Enabled: true}
		if c.Target == "" {
			return nil, Errorf(CodeInvalidBody, "schedule_multi: target required")
		}
		if len(w.Schedules) == 0 {
			return nil, Errorf(CodeInvalidInterval, "schedule_multi: schedules required")
		}
		for _, iv := range w.Schedules {
			c.Intervals = append(c.Intervals, schedule.Interval{
				On:  schedule.Normalize(iv.On),
				Off: schedule.Normalize(iv.Off),
			})
		}
		if w.Enabled != nil {
			c.Enabled = *w.Enabled
		}
		return c, nil

	case ActionAddLight:
		c := AddLight{Name: strings.TrimSpace(w.Name)}
		if c.Name == "" {
			c.Name = w.target()
		}
		if c.Name == "" || w.Pin == nil {
			return nil, Errorf(CodeInvalidAddLight, "add_light: name and pin required")
		}
		c.Pin = *w.Pin
		if w.On != nil {
			c.On = schedule.Normalize(*w.On)
		}
		if w.Off != nil {
			c.Off = schedule.Normalize(*w.Off)
		}
		if w.ScheduleEnabled != nil {
			c.ScheduleEnabled = *w.ScheduleEnabled
		} else if w.Enabled != nil {
			c.ScheduleEnabled = *w.Enabled
		}
		return c, nil

	case ActionDeleteLight:
		name := w.target()
		if name == "" {
			return nil, Errorf(CodeInvalidDeleteLight, "delete_light: name required")
		}
		return DeleteLight{Name: name}, nil

	case ActionGetStatus:
		return GetStatus{}, nil

	case "":
		return nil, Errorf(CodeInvalidBody, "missing action")
	default:
		return nil, Errorf(CodeInvalidBody, "unknown action %q", w.Action)
	}
}
