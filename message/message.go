// Package message implements the wire envelope exchanged between
// Paxos roles: a line-oriented, semicolon-separated key=value codec.
package message

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"council/pn"
)

// Type enumerates the envelope kinds the protocol exchanges.
type Type string

const (
	Prepare       Type = "PREPARE"
	Promise       Type = "PROMISE"
	AcceptRequest Type = "ACCEPT_REQUEST"
	Accepted      Type = "ACCEPTED"
	Decide        Type = "DECIDE"
)

func (t Type) valid() bool {
	switch t {
	case Prepare, Promise, AcceptRequest, Accepted, Decide:
		return true
	}
	return false
}

// ErrMalformedMessage is returned by Decode when a line cannot be
// turned into a well-formed Message.
var ErrMalformedMessage = errors.New("message: malformed message")

const (
	keyType  = "type"
	keyFrom  = "from"
	keyProp  = "p"
	keyValue = "value"
	extraTag = "x_"
)

// Message is the immutable envelope carried over the transport.
type Message struct {
	Type     Type
	SenderID string
	Proposal pn.PN
	HasProposal bool
	Value       string
	HasValue    bool
	Extra       map[string]string
}

// HasExtra reports whether key is present in Extra.
func (m Message) HasExtra(key string) bool {
	_, ok := m.Extra[key]
	return ok
}

// Encode renders m in the wire format. The result is deterministic
// given the same input: extra keys are emitted in sorted order so two
// calls on an equal Message always produce byte-identical output, even
// though the codec does not require this of a decoder.
func Encode(m Message) string {
	var b strings.Builder
	b.WriteString(keyType)
	b.WriteByte('=')
	b.WriteString(string(m.Type))

	b.WriteByte(';')
	b.WriteString(keyFrom)
	b.WriteByte('=')
	b.WriteString(m.SenderID)

	if m.HasProposal {
		b.WriteByte(';')
		b.WriteString(keyProp)
		b.WriteByte('=')
		b.WriteString(pn.Format(m.Proposal))
	}
	if m.HasValue {
		b.WriteByte(';')
		b.WriteString(keyValue)
		b.WriteByte('=')
		b.WriteString(m.Value)
	}

	if len(m.Extra) > 0 {
		keys := make([]string, 0, len(m.Extra))
		for k := range m.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(';')
			b.WriteString(extraTag)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(m.Extra[k])
		}
	}
	return b.String()
}

// Decode parses the wire format produced by Encode. It fails with
// ErrMalformedMessage when type is missing/unknown, from is missing,
// or a p= field is present but unparsable as a proposal number.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	var m Message
	m.Extra = nil

	sawType, sawFrom := false, false
	for _, field := range strings.Split(line, ";") {
		if field == "" {
			continue
		}
		eq := strings.IndexByte(field, '=')
		if eq < 0 {
			return Message{}, fmt.Errorf("%w: field %q has no \"=\"", ErrMalformedMessage, field)
		}
		key, val := field[:eq], field[eq+1:]
		switch {
		case key == keyType:
			t := Type(val)
			if !t.valid() {
				return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, val)
			}
			m.Type = t
			sawType = true
		case key == keyFrom:
			m.SenderID = val
			sawFrom = true
		case key == keyProp:
			p, err := pn.Parse(val)
			if err != nil {
				return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
			}
			m.Proposal = p
			m.HasProposal = true
		case key == keyValue:
			m.Value = val
			m.HasValue = true
		case strings.HasPrefix(key, extraTag):
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[strings.TrimPrefix(key, extraTag)] = val
		default:
			return Message{}, fmt.Errorf("%w: unrecognized key %q", ErrMalformedMessage, key)
		}
	}

	if !sawType {
		return Message{}, fmt.Errorf("%w: missing %q field", ErrMalformedMessage, keyType)
	}
	if !sawFrom {
		return Message{}, fmt.Errorf("%w: missing %q field", ErrMalformedMessage, keyFrom)
	}
	return m, nil
}
