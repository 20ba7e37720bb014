package core

import "testing"

func TestHandleFrameStatus(t *testing.T) {
	d := newTestDispatcher(t, false)
	var r recorder
	d.Hub().Events().Subscribe(&r)

	reply, err := d.HandleFrame([]byte(`{"type":"status","payload":{"device":"esp32","lights":[{"name":"kitchen","state":1}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("status frame reply = %+v, want none", reply)
	}
	st, ok := d.Hub().Cache().Get()
	if !ok || st.Device != "esp32" || !st.Lights[0].State || st.UpdatedAt == 0 {
		t.Errorf("cached = %+v", st)
	}
	if len(r.ofType(EventStatus)) != 1 {
		t.Error("status not broadcast")
	}
}

func TestHandleFrameCommand(t *testing.T) {
	d := newTestDispatcher(t, false)

	reply, err := d.HandleFrame([]byte(`{"type":"cmd","payload":{"action":"add_light","name":"porch","pin":21}}`))
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Type != EventAck || !reply.Payload.(AckPayload).OK {
		t.Errorf("reply = %+v", reply)
	}

	reply, _ = d.HandleFrame([]byte(`{"type":"cmd","payload":{"action":"add_light","name":"porch","pin":21}}`))
	if p := reply.Payload.(AckPayload); p.OK || p.Error != CodeNameExists {
		t.Errorf("duplicate ack = %+v", p)
	}
}

func TestHandleFrameErrors(t *testing.T) {
	d := newTestDispatcher(t, false)
	tests := []struct {
		in   string
		want Code
	}{
		{`not json`, CodeInvalidJSON},
		{`{"type":"reboot"}`, CodeInvalidBody},
		{`{"type":"status","payload":{"device":"x"}}`, CodeBadStatus},
	}
	for _, tt := range tests {
		if _, err := d.HandleFrame([]byte(tt.in)); CodeOf(err) != tt.want {
			t.Errorf("%s: code = %s, want %s", tt.in, CodeOf(err), tt.want)
		}
	}
}
