package intent

import (
	"strconv"
	"strings"
	"unicode"
)

// thaiKeywords maps Thai command words onto the English grammar. Longer
// words are listed first so they win over their prefixes.
var thaiKeywords = strings.NewReplacer(
	"เปิดไฟ", " turn on light ",
	"ปิดไฟ", " turn off light ",
	"เปิด", " turn on ",
	"ปิด", " turn off ",
	"สร้างไฟ", " create light ",
	"เพิ่มไฟ", " add light ",
	"สร้าง", " create ",
	"เพิ่ม", " add ",
	"ลบไฟ", " delete light ",
	"ลบ", " delete ",
	"เอาออก", " remove ",
	"ตั้งเวลา", " schedule ",
	"ทั้งหมด", " all ",
	"ถึง", " to ",
	"พิน", " pin ",
	"ชื่อ", " name ",
	"ไฟ", " light ",
)

var keywords = map[string]bool{
	"turn": true, "switch": true, "on": true, "off": true,
	"light": true, "lights": true, "name": true, "pin": true,
	"create": true, "add": true, "delete": true, "remove": true,
	"schedule": true, "to": true, "from": true, "-": true,
	"all": true, "please": true,
}

// tokenize lowercases text, maps Thai keywords and splits it into words.
// A time range such as "18:00-23:00" becomes three tokens.
func tokenize(text string) []string {
	s := thaiKeywords.Replace(strings.ToLower(text))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == ':', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	var toks []string
	for _, f := range strings.Fields(b.String()) {
		if strings.Contains(f, ":") && strings.Contains(f, "-") {
			on, off, _ := strings.Cut(f, "-")
			for _, part := range []string{on, "-", off} {
				if part != "" {
					toks = append(toks, part)
				}
			}
			continue
		}
		toks = append(toks, f)
	}
	return toks
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) accept(words ...string) bool {
	cur := p.peek()
	for _, w := range words {
		if cur == w {
			p.pos++
			return true
		}
	}
	return false
}

func (p *parser) number() (int, bool) {
	n, err := strconv.Atoi(p.peek())
	if err != nil || n <= 0 || n > 99 {
		return 0, false
	}
	p.pos++
	return n, true
}

func (p *parser) clock() (string, bool) {
	c, ok := normClock(p.peek())
	if ok {
		p.pos++
	}
	return c, ok
}

func (p *parser) name() (string, bool) {
	tok := p.peek()
	if tok == "" || keywords[tok] || strings.Contains(tok, ":") || len([]rune(tok)) > 32 {
		return "", false
	}
	p.pos++
	return tok, true
}

// window parses "HH:MM [-|to] HH:MM".
func (p *parser) window() (on, off string, ok bool) {
	p.accept("from")
	if on, ok = p.clock(); !ok {
		return "", "", false
	}
	p.accept("-", "to")
	if off, ok = p.clock(); !ok {
		return "", "", false
	}
	return on, off, true
}

func parseGrammar(toks []string) (Intent, bool) {
	p := &parser{toks: toks}
	// Skip list numbering such as "1." in assistant replies.
	for !p.done() {
		if _, err := strconv.Atoi(p.peek()); err != nil {
			break
		}
		p.pos++
	}
	p.accept("please")

	var (
		in Intent
		ok bool
	)
	switch {
	case p.accept("turn", "switch"):
		in, ok = p.toggle()
	case p.accept("create", "add"):
		in, ok = p.create()
	case p.accept("delete", "remove"):
		in, ok = p.remove()
	case p.accept("schedule"):
		in, ok = p.schedule()
	}
	if !ok || !p.done() {
		return Intent{}, false
	}
	return in, true
}

// TURN|SWITCH ON|OFF [LIGHT] (PIN <n> | [NAME] <name> | ALL [LIGHTS])
func (p *parser) toggle() (Intent, bool) {
	var state bool
	switch {
	case p.accept("on"):
		state = true
	case p.accept("off"):
	default:
		return Intent{}, false
	}
	in := Intent{Type: TypeToggle, State: &state}
	if p.accept("all") {
		p.accept("light", "lights")
		in.Name = "all"
		return in, true
	}
	p.accept("light", "lights")
	if p.accept("pin") {
		n, ok := p.number()
		in.Pin = n
		return in, ok
	}
	p.accept("name")
	if p.accept("all") {
		in.Name = "all"
		return in, true
	}
	name, ok := p.name()
	in.Name = name
	return in, ok
}

// CREATE|ADD [LIGHT] [[NAME] <name>] PIN <n> [ON|SCHEDULE <window>]
func (p *parser) create() (Intent, bool) {
	in := Intent{Type: TypeCreate}
	p.accept("light")
	if p.accept("name") {
		name, ok := p.name()
		if !ok {
			return Intent{}, false
		}
		in.Name = name
	} else if p.peek() != "pin" {
		name, ok := p.name()
		if !ok {
			return Intent{}, false
		}
		in.Name = name
	}
	if !p.accept("pin") {
		return Intent{}, false
	}
	n, ok := p.number()
	if !ok {
		return Intent{}, false
	}
	in.Pin = n
	if p.accept("on", "schedule") {
		if in.On, in.Off, ok = p.window(); !ok {
			return Intent{}, false
		}
	}
	return in, true
}

// DELETE|REMOVE [LIGHT] [NAME] <name>
func (p *parser) remove() (Intent, bool) {
	p.accept("light")
	p.accept("name")
	name, ok := p.name()
	return Intent{Type: TypeDelete, Name: name}, ok
}

// SCHEDULE [LIGHT] [NAME] <name> <window>
func (p *parser) schedule() (Intent, bool) {
	p.accept("light")
	p.accept("name")
	name, ok := p.name()
	if !ok {
		return Intent{}, false
	}
	on, off, ok := p.window()
	return Intent{Type: TypeSchedule, Name: name, On: on, Off: off}, ok
}
