package core

import (
	"encoding/json"
	"math"
	"strings"
)

// LightState is one entry of a controller-reported status. Optional fields
// are nil when the controller omitted them or sent a value of the wrong type.
type LightState struct {
	Name            string  `json:"name"`
	State           bool    `json:"state"`
	On              *string `json:"on,omitempty"`
	Off             *string `json:"off,omitempty"`
	ScheduleEnabled *bool   `json:"scheduleEnabled,omitempty"`
	Pin             *int    `json:"pin,omitempty"`
}

// UnmarshalJSON accepts the loosely typed entries controllers send: state
// may be a boolean, number or string and is coerced to a boolean.
func (l *LightState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name            any `json:"name"`
		State           any `json:"state"`
		On              any `json:"on"`
		Off             any `json:"off"`
		ScheduleEnabled any `json:"scheduleEnabled"`
		Pin             any `json:"pin"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = LightState{State: truthy(raw.State)}
	switch v := raw.Name.(type) {
	case string:
		l.Name = v
	case float64:
		l.Name = jsonNumber(v)
	}
	if s, ok := raw.On.(string); ok && s != "" {
		l.On = &s
	}
	if s, ok := raw.Off.(string); ok && s != "" {
		l.Off = &s
	}
	if b, ok := raw.ScheduleEnabled.(bool); ok {
		l.ScheduleEnabled = &b
	}
	if f, ok := raw.Pin.(float64); ok && f == math.Trunc(f) {
		p := int(f)
		l.Pin = &p
	}
	return nil
}

func jsonNumber(f float64) string {
	data, _ := json.Marshal(f)
	return string(data)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "yes":
			return true
		}
	}
	return false
}

// DeviceStatus is the last status reported by a controller (or produced by
// the simulator). UpdatedAt is stamped by the server in unix milliseconds.
type DeviceStatus struct {
	Device    string       `json:"device"`
	Lights    []LightState `json:"lights"`
	UpdatedAt int64        `json:"updatedAt"`
}

func (s DeviceStatus) clone() DeviceStatus {
	out := s
	out.Lights = make([]LightState, len(s.Lights))
	copy(out.Lights, s.Lights)
	return out
}

func ptr[T any](v T) *T { return &v }

// DecodeStatus parses a controller status report. The lights field must be
// present and an array.
func DecodeStatus(data []byte) (DeviceStatus, error) {
	var st struct {
		Device string       `json:"device"`
		Lights []LightState `json:"lights"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		if _, ok := err.(*json.SyntaxError); ok {
			return DeviceStatus{}, Errorf(CodeInvalidJSON, "decode status: %v", err)
		}
		return DeviceStatus{}, Errorf(CodeBadStatus, "decode status: %v", err)
	}
	if st.Lights == nil {
		return DeviceStatus{}, Errorf(CodeBadStatus, "lights must be an array")
	}
	return DeviceStatus{Device: st.Device, Lights: st.Lights}, nil
}
