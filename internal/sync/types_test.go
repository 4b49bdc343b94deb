package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"down", "up", "both"} {
		d, err := ParseDirection(s)
		require.NoError(t, err)
		assert.Equal(t, Direction(s), d)
	}

	for _, s := range []string{"", "Down", "sideways", "upload"} {
		_, err := ParseDirection(s)
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr, "input %q", s)
		assert.Equal(t, "dir", cerr.Field)
		assert.Contains(t, err.Error(), "should be one of up/down/both")
	}
}

func TestRoleFor(t *testing.T) {
	r, err := RoleFor(Down)
	require.NoError(t, err)
	_, uploads := r.(Uploader)
	assert.False(t, uploads)

	r, err = RoleFor(Up)
	require.NoError(t, err)
	_, downloads := r.(Downloader)
	assert.False(t, downloads)

	r, err = RoleFor(Both)
	require.NoError(t, err)
	assert.Implements(t, (*Downloader)(nil), r)
	assert.Implements(t, (*Uploader)(nil), r)
	assert.Equal(t, Both, r.Direction())

	_, err = RoleFor("nope")
	assert.Error(t, err)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "relay.example.com", ShortName("wss://relay.example.com"))
	assert.Equal(t, "localhost:7777/path", ShortName("ws://localhost:7777/path"))
	assert.Equal(t, "http://x", ShortName("http://x"))
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers("wss://a.example.com, ws://b.example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, []Peer{
		{URL: "wss://a.example.com", Name: "a.example.com"},
		{URL: "ws://b.example.com:8080", Name: "b.example.com:8080"},
	}, peers)

	bad := []string{
		"",
		"   ",
		"wss://a.example.com,,wss://b.example.com",
		"https://a.example.com",
		"relay.example.com",
		"ws://",
	}
	for _, list := range bad {
		_, err := ParsePeers(list)
		var cerr *ConfigError
		assert.ErrorAs(t, err, &cerr, "list %q", list)
	}
}

func TestEncodeEvent(t *testing.T) {
	assert.Equal(t, `["EVENT",{"id":"x"}]`, string(encodeEvent([]byte(`{"id":"x"}`))))
}
