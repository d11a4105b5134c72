package domain

import (
	"fmt"
	"strings"
)

// Well-known payload keys shared by every channel.
const (
	PayloadKeyRecipient = "to"
	PayloadKeyMessage   = "message"
	PayloadKeySubject   = "subject"
)

// Payload is the opaque delivery payload of a notification request.
type Payload map[string]any

// NewPayload merges the common fields with channel specific extras. Extras
// never override recipient, message or subject.
func NewPayload(recipient, message string, subject *string, extra map[string]any) Payload {
	p := make(Payload, len(extra)+3)
	for k, v := range extra {
		p[k] = v
	}

	p[PayloadKeyRecipient] = recipient
	p[PayloadKeyMessage] = message
	if subject != nil {
		p[PayloadKeySubject] = *subject
	} else {
		p[PayloadKeySubject] = nil
	}

	return p
}

func (p Payload) Recipient() string { return p.String(PayloadKeyRecipient) }

func (p Payload) Message() string { return p.String(PayloadKeyMessage) }

func (p Payload) Subject() string { return p.String(PayloadKeySubject) }

// String returns the trimmed string form of key, or "" when missing or null.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}

	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case float64:
		// JSON numbers decode as float64; chat ids are integers.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Map returns the nested object stored at key, if any.
func (p Payload) Map(key string) (map[string]any, bool) {
	if p == nil {
		return nil, false
	}
	m, ok := p[key].(map[string]any)
	return m, ok
}

func (p Payload) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	return ok && v != nil
}

func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
