// Package intent turns free-form chat text (English or Thai) into structured
// light commands.
package intent

import (
	"fmt"
	"strings"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/schedule"
)

// Type is the kind of an intent.
type Type string

const (
	TypeCreate   Type = "create"
	TypeDelete   Type = "delete"
	TypeToggle   Type = "toggle"
	TypeSchedule Type = "schedule"
	TypeChat     Type = "chat"
)

// Default window for lights created from chat without explicit times.
const (
	DefaultOn  = "18:00"
	DefaultOff = "23:00"
)

// Intent is the parsed meaning of one chat message or reply line.
type Intent struct {
	Type  Type   `json:"type"`
	Name  string `json:"name,omitempty"`
	Pin   int    `json:"pin,omitempty"`
	State *bool  `json:"state,omitempty"`
	On    string `json:"on,omitempty"`
	Off   string `json:"off,omitempty"`
}

// Parse interprets text. The command grammar is tried first, then keyword
// matching. Anything unrecognised is a chat intent; Parse never fails.
func Parse(text string) Intent {
	if in, ok := parseGrammar(tokenize(text)); ok {
		return in
	}
	return fallback(text)
}

// ParseLine parses a single line with the strict command grammar only.
func ParseLine(line string) (Intent, bool) {
	return parseGrammar(tokenize(line))
}

// ParseReply extracts commands from an assistant reply, one per line. When
// no line is a command, the user's original message is parsed instead.
func ParseReply(reply, message string) []Intent {
	var out []Intent
	for _, line := range strings.Split(reply, "\n") {
		if in, ok := ParseLine(line); ok {
			out = append(out, in)
		}
	}
	if len(out) > 0 {
		return out
	}
	return []Intent{Parse(message)}
}

// Command converts the intent into a dispatchable command. ok is false for
// chat intents and for intents missing the fields their command needs.
func (in Intent) Command() (core.Command, bool) {
	switch in.Type {
	case TypeCreate:
		if in.Name == "" || in.Pin == 0 {
			return nil, false
		}
		c := core.AddLight{Name: in.Name, Pin: in.Pin, On: DefaultOn, Off: DefaultOff}
		if in.On != "" && in.Off != "" {
			c.On, c.Off = in.On, in.Off
			c.ScheduleEnabled = true
		}
		return c, true
	case TypeDelete:
		if in.Name == "" {
			return nil, false
		}
		return core.DeleteLight{Name: in.Name}, true
	case TypeToggle:
		if in.Name == "" && in.Pin == 0 {
			return nil, false
		}
		return core.SetLight{Toggle: in.State == nil, Target: in.Name, Pin: in.Pin, State: in.State}, true
	case TypeSchedule:
		if in.Name == "" || in.On == "" || in.Off == "" {
			return nil, false
		}
		return core.Schedule{Target: in.Name, On: in.On, Off: in.Off, Enabled: true}, true
	}
	return nil, false
}

// Line renders the intent as a canonical command line that ParseLine
// accepts. Chat intents render as "".
func (in Intent) Line() string {
	target := "NAME " + in.Name
	if in.Name == "" && in.Pin != 0 {
		target = fmt.Sprintf("PIN %d", in.Pin)
	}
	switch in.Type {
	case TypeToggle:
		verb := "TURN ON"
		if in.State != nil && !*in.State {
			verb = "TURN OFF"
		}
		return verb + " LIGHT " + target
	case TypeCreate:
		s := fmt.Sprintf("ADD LIGHT NAME %s PIN %d", in.Name, in.Pin)
		if in.On != "" && in.Off != "" {
			s += fmt.Sprintf(" ON %s-%s", in.On, in.Off)
		}
		return s
	case TypeDelete:
		return "DELETE LIGHT " + target
	case TypeSchedule:
		return fmt.Sprintf("SCHEDULE LIGHT %s %s-%s", target, in.On, in.Off)
	}
	return ""
}

func normClock(s string) (string, bool) {
	m, err := schedule.ParseClock(s)
	if err != nil {
		return "", false
	}
	return schedule.FormatClock(m), true
}
