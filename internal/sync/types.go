package sync

import (
	"fmt"
	"net/url"
	"strings"
)

// Direction selects which way events flow for a whole engine run.
type Direction string

const (
	Down Direction = "down"
	Up   Direction = "up"
	Both Direction = "both"
)

// ParseDirection validates a --dir value.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Down, Up, Both:
		return d, nil
	}
	return "", &ConfigError{Field: "dir", Value: s, Reason: "should be one of up/down/both"}
}

// Peer is one remote endpoint.
type Peer struct {
	URL  string
	Name string // URL without the ws:// or wss:// prefix, for logs
}

// ShortName strips the websocket scheme from a peer URL.
func ShortName(rawURL string) string {
	return strings.TrimPrefix(strings.TrimPrefix(rawURL, "wss://"), "ws://")
}

// ParsePeers splits a comma-separated URL list. Every entry must be a
// ws:// or wss:// URL with a host.
func ParsePeers(list string) ([]Peer, error) {
	if strings.TrimSpace(list) == "" {
		return nil, &ConfigError{Field: "url", Value: list, Reason: "no peer URLs given"}
	}

	var peers []Peer
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, &ConfigError{Field: "url", Value: list, Reason: "empty entry in peer list"}
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, &ConfigError{Field: "url", Value: raw, Reason: err.Error()}
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, &ConfigError{Field: "url", Value: raw, Reason: "scheme must be ws or wss"}
		}
		if u.Host == "" {
			return nil, &ConfigError{Field: "url", Value: raw, Reason: "missing host"}
		}
		peers = append(peers, Peer{URL: raw, Name: ShortName(raw)})
	}
	return peers, nil
}

// ConfigError is a fatal problem with the engine's inputs, reported before
// any connection is attempted.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ProtocolError is a malformed frame from a peer. It ends that peer's
// connection and nothing else.
type ProtocolError struct {
	Peer   string
	Reason string
	Frame  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s: %s", e.Peer, e.Reason, e.Frame)
}

// truncateFrame keeps error messages readable for large frames.
func truncateFrame(data []byte) string {
	const limit = 200
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit-3]) + "..."
}
