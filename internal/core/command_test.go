package core

import (
	"encoding/json"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantCode Code
		check    func(t *testing.T, c Command)
	}{
		{
			name: "set all",
			in:   `{"action":"set","target":"all","state":true}`,
			check: func(t *testing.T, c Command) {
				s := c.(SetLight)
				if s.Target != TargetAll || s.State == nil || !*s.State || s.Toggle {
					t.Errorf("got %+v", s)
				}
			},
		},
		{
			name: "toggle by room",
			in:   `{"action":"toggle","room":"kitchen"}`,
			check: func(t *testing.T, c Command) {
				if s := c.(SetLight); s.Target != "kitchen" || !s.Toggle || s.State != nil {
					t.Errorf("got %+v", s)
				}
			},
		},
		{
			name: "set_pin alias",
			in:   `{"action":"set_pin","pin":22,"state":false}`,
			check: func(t *testing.T, c Command) {
				if s := c.(SetLight); s.Pin != 22 || s.Action() != ActionSet {
					t.Errorf("got %+v", s)
				}
			},
		},
		{name: "set without target", in: `{"action":"set","state":true}`, wantCode: CodeInvalidBody},
		{
			name: "schedule",
			in:   `{"action":"schedule","room":"bedroom","on":"9:00","off":"07:00","enabled":false}`,
			check: func(t *testing.T, c Command) {
				s := c.(Schedule)
				if s.Target != "bedroom" || s.On != "09:00" || s.Enabled {
					t.Errorf("got %+v", s)
				}
			},
		},
		{name: "schedule without times", in: `{"action":"schedule","target":"x"}`, wantCode: CodeInvalidInterval},
		{
			name: "schedule_multi",
			in:   `{"action":"schedule_multi","target":"porch","schedules":[{"on":"06:00","off":"08:00"},{"on":"18:00","off":"23:00"}]}`,
			check: func(t *testing.T, c Command) {
				s := c.(ScheduleMulti)
				if len(s.Intervals) != 2 || !s.Enabled {
					t.Errorf("got %+v", s)
				}
			},
		},
		{name: "schedule_multi empty", in: `{"action":"schedule_multi","target":"porch"}`, wantCode: CodeInvalidInterval},
		{
			name: "add_light",
			in:   `{"action":"add_light","name":" porch ","pin":21,"scheduleEnabled":true,"on":"18:00","off":"23:00"}`,
			check: func(t *testing.T, c Command) {
				a := c.(AddLight)
				if a.Name != "porch" || a.Pin != 21 || !a.ScheduleEnabled {
					t.Errorf("got %+v", a)
				}
			},
		},
		{name: "add_light without pin", in: `{"action":"add_light","name":"porch"}`, wantCode: CodeInvalidAddLight},
		{name: "delete_light without name", in: `{"action":"delete_light"}`, wantCode: CodeInvalidDeleteLight},
		{name: "get_status", in: `{"action":"get_status"}`},
		{name: "unknown action", in: `{"action":"explode"}`, wantCode: CodeInvalidBody},
		{name: "missing action", in: `{}`, wantCode: CodeInvalidBody},
		{name: "bad json", in: `{"action":`, wantCode: CodeInvalidJSON},
		{name: "wrong type", in: `{"action":"set","target":"a","state":"on"}`, wantCode: CodeInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := DecodeCommand([]byte(tt.in))
			if tt.wantCode != "" {
				if CodeOf(err) != tt.wantCode {
					t.Fatalf("code = %s, want %s (err %v)", CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.check != nil {
				tt.check(t, cmd)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	_, env, err := DecodeCommand([]byte(`{"action":"get_status","ts":1700000000000,"nonce":"abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.TS != 1700000000000 || env.Nonce != "abc" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestCommandWireRoundTrip(t *testing.T) {
	cmds := []Command{
		SetLight{Target: "kitchen", State: boolPtr(true)},
		SetLight{Toggle: true, Target: TargetAll},
		Schedule{Target: "bedroom", On: "21:00", Off: "07:00", Enabled: true},
		AddLight{Name: "porch", Pin: 21, On: "18:00", Off: "23:00"},
		DeleteLight{Name: "porch"},
	}
	for _, c := range cmds {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatal(err)
		}
		var decoded struct {
			Action string `json:"action"`
		}
		json.Unmarshal(data, &decoded)
		if decoded.Action != string(c.Action()) {
			t.Errorf("%T action = %q, want %q", c, decoded.Action, c.Action())
		}
		back, _, err := DecodeCommand(data)
		if err != nil {
			t.Errorf("%s: decode %s: %v", c.Action(), data, err)
			continue
		}
		if back.Action() != c.Action() {
			t.Errorf("round trip %s -> %s", c.Action(), back.Action())
		}
	}
}
