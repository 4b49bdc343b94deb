// Package event defines the content-addressed event record replicated by
// evstream, along with its canonical id computation and envelope checks.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// IDLength is the length of a hex-encoded event id.
const IDLength = 64

// Event is a single immutable record. Its ID is the sha256 of the canonical
// serialization, so identical events carry identical ids on every peer.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

var (
	ErrBadID      = errors.New("event id must be 64 lowercase hex characters")
	ErrBadPubKey  = errors.New("event pubkey must be 64 lowercase hex characters")
	ErrIDMismatch = errors.New("event id does not match content hash")
)

// New builds an event and fills in its id.
func New(pubKey string, createdAt int64, kind int, tags [][]string, content string) *Event {
	if tags == nil {
		tags = [][]string{}
	}
	ev := &Event{
		PubKey:    pubKey,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	ev.ID = ev.ComputeID()
	return ev
}

// Parse decodes a JSON event object. It does not run Check.
func Parse(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	return &ev, nil
}

// Serialize returns the canonical array form hashed to produce the id:
// [0, pubkey, created_at, kind, tags, content]. Strings are written raw
// except for quote, backslash and control bytes, so characters such as
// U+2028 hash the same as on every other peer.
func (e *Event) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(`[0,`)
	writeString(&buf, e.PubKey)
	buf.WriteByte(',')
	buf.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(e.Kind))
	buf.WriteString(`,[`)
	for i, tag := range e.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, v := range tag {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeString(&buf, v)
		}
		buf.WriteByte(']')
	}
	buf.WriteString(`],`)
	writeString(&buf, e.Content)
	buf.WriteByte(']')
	return buf.Bytes()
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Check verifies the envelope fields and that the id matches the content.
func (e *Event) Check() error {
	if !ValidID(e.ID) {
		return ErrBadID
	}
	if !ValidID(e.PubKey) {
		return ErrBadPubKey
	}
	if e.ComputeID() != e.ID {
		return ErrIDMismatch
	}
	return nil
}

// Marshal encodes the event as a JSON object.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ValidID reports whether s is a 64-character lowercase hex string.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ShortID truncates an id for log output.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
