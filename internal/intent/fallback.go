package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reName     = regexp.MustCompile(`\b(?:light|room|name)\s+([a-z0-9_-]{1,32})`)
	reNameThai = regexp.MustCompile(`ไฟ\s*([a-z0-9_-]{1,32})`)
	rePin      = regexp.MustCompile(`(?:\bpin|พิน)\s*(\d{1,2})\b`)
	reOn       = regexp.MustCompile(`\b(?:turn\s*on|switch\s*on|open|start|enable)\b|เปิด`)
	reOff      = regexp.MustCompile(`\b(?:turn\s*off|switch\s*off|close|stop|disable)\b`)
	reCreate   = regexp.MustCompile(`\b(?:create|add)\s+(?:light|room)\b|สร้าง|เพิ่ม`)
	reDelete   = regexp.MustCompile(`\b(?:delete|remove)\s+(?:light|room)\b|ลบ|เอาออก`)
	reWindow   = regexp.MustCompile(`(?:schedule|ตั้งเวลา)\D*?(\d{1,2}:\d{2})\s*(?:-|to|ถึง)?\s*(\d{1,2}:\d{2})`)
)

// thaiOff reports whether text contains the Thai word for "off" on its own
// rather than as the tail of the word for "on".
func thaiOff(text string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], "ปิด")
		if j < 0 {
			return false
		}
		at := i + j
		if !strings.HasSuffix(text[:at], "เ") {
			return true
		}
		i = at + len("ปิด")
	}
}

func findName(text string) string {
	for _, re := range []*regexp.Regexp{reName, reNameThai} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if !keywords[m[1]] {
				return m[1]
			}
		}
	}
	return ""
}

func findPin(text string) int {
	m := rePin.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// fallback matches loose keyword patterns when the grammar does not apply.
func fallback(text string) Intent {
	lower := strings.ToLower(text)
	name, pin := findName(lower), findPin(lower)

	switch {
	case reCreate.MatchString(lower):
		in := Intent{Type: TypeCreate, Name: name, Pin: pin}
		if m := reWindow.FindStringSubmatch(lower); m != nil {
			on, okOn := normClock(m[1])
			off, okOff := normClock(m[2])
			if okOn && okOff {
				in.On, in.Off = on, off
			}
		}
		return in
	case reDelete.MatchString(lower):
		return Intent{Type: TypeDelete, Name: name}
	}

	if m := reWindow.FindStringSubmatch(lower); m != nil && name != "" {
		on, okOn := normClock(m[1])
		off, okOff := normClock(m[2])
		if okOn && okOff {
			return Intent{Type: TypeSchedule, Name: name, On: on, Off: off}
		}
	}

	on := reOn.MatchString(lower)
	off := reOff.MatchString(lower) || thaiOff(lower)
	if on || off {
		state := on && !off
		return Intent{Type: TypeToggle, Name: name, Pin: pin, State: &state}
	}
	return Intent{Type: TypeChat}
}
