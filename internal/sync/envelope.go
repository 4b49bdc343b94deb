package sync

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Envelope tags.
const (
	TagReq    = "REQ"
	TagEvent  = "EVENT"
	TagOK     = "OK"
	TagNotice = "NOTICE"
	TagEOSE   = "EOSE"
)

var (
	errNotArray      = errors.New("unexpected message")
	errArrayTooShort = errors.New("array too short")
)

// Envelope is a decoded wire message: a JSON array whose first element is
// the tag. Elems holds every element including the tag.
type Envelope struct {
	Tag   string
	Elems []json.RawMessage
}

// parseEnvelope decodes a frame. A non-string first element yields an empty
// tag, which the state machine rejects as unknown.
func parseEnvelope(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Envelope{}, errNotArray
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return Envelope{}, errNotArray
	}
	if len(elems) < 2 {
		return Envelope{}, errArrayTooShort
	}
	var tag string
	if err := json.Unmarshal(elems[0], &tag); err != nil {
		tag = ""
	}
	return Envelope{Tag: tag, Elems: elems}, nil
}

func encodeReq(subID string) []byte {
	sub, _ := json.Marshal(subID)
	var buf bytes.Buffer
	buf.WriteString(`["REQ",`)
	buf.Write(sub)
	buf.WriteString(`,{"limit":0}]`)
	return buf.Bytes()
}

func encodeEvent(payload json.RawMessage) []byte {
	buf := make([]byte, 0, len(payload)+10)
	buf = append(buf, `["EVENT",`...)
	buf = append(buf, payload...)
	buf = append(buf, ']')
	return buf
}
