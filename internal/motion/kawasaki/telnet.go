package kawasaki

import (
	"bytes"
	"io"
)

// Telnet bytes used by the AS terminal.
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240

	optEcho  = 1
	optTType = 24

	ttypeIs   = 0
	ttypeSend = 1
)

type telnetState int

const (
	stData telnetState = iota
	stIAC
	stOption
	stSub
	stSubIAC
)

// telnetReader strips telnet negotiation from the stream and answers it. It
// accepts remote echo and reports a VT100 terminal; every other option is
// refused.
type telnetReader struct {
	w      io.Writer
	state  telnetState
	verb   byte
	sub    []byte
	cooked bytes.Buffer
}

func (t *telnetReader) feed(raw []byte) error {
	for _, b := range raw {
		switch t.state {
		case stData:
			switch b {
			case iac:
				t.state = stIAC
			case 0, 0x11:
			default:
				t.cooked.WriteByte(b)
			}

		case stIAC:
			switch b {
			case iac:
				t.cooked.WriteByte(iac)
				t.state = stData
			case do, dont, will, wont:
				t.verb = b
				t.state = stOption
			case sb:
				t.sub = t.sub[:0]
				t.state = stSub
			default:
				t.state = stData
			}

		case stOption:
			t.state = stData
			if err := t.negotiate(t.verb, b); err != nil {
				return err
			}

		case stSub:
			if b == iac {
				t.state = stSubIAC
				continue
			}
			t.sub = append(t.sub, b)

		case stSubIAC:
			if b == se {
				t.state = stData
				if err := t.subnegotiate(); err != nil {
					return err
				}
				continue
			}
			t.sub = append(t.sub, b)
			t.state = stSub
		}
	}
	return nil
}

func (t *telnetReader) negotiate(verb, opt byte) error {
	var reply []byte
	switch {
	case verb == will && opt == optEcho:
		reply = []byte{iac, do, opt}
	case verb == do && opt == optTType:
		reply = []byte{iac, will, opt}
	case verb == do:
		reply = []byte{iac, wont, opt}
	case verb == will:
		reply = []byte{iac, dont, opt}
	default:
		return nil
	}
	_, err := t.w.Write(reply)
	return err
}

func (t *telnetReader) subnegotiate() error {
	if len(t.sub) < 2 || t.sub[0] != optTType || t.sub[1] != ttypeSend {
		return nil
	}
	reply := []byte{iac, sb, optTType, ttypeIs}
	reply = append(reply, "VT100"...)
	reply = append(reply, iac, se)
	_, err := t.w.Write(reply)
	return err
}

// take removes and returns the cooked text up to and including the first of
// matches, if any is present.
func (t *telnetReader) take(matches []string) (string, bool) {
	data := t.cooked.Bytes()
	best, bestEnd := -1, 0
	for _, m := range matches {
		if i := bytes.Index(data, []byte(m)); i >= 0 && (best < 0 || i < best) {
			best, bestEnd = i, i+len(m)
		}
	}
	if best < 0 {
		return "", false
	}
	out := string(data[:bestEnd])
	t.cooked.Next(bestEnd)
	return out, true
}
