package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPeer = Peer{URL: "wss://relay.example.com", Name: "relay.example.com"}

func TestConnected_SubscribesOnlyWhenDownloading(t *testing.T) {
	tests := []struct {
		role Role
		want []string
	}{
		{DownloadRole{}, []string{`["REQ","sub",{"limit":0}]`}},
		{UploadRole{}, nil},
		{BidirectionalRole{}, []string{`["REQ","sub",{"limit":0}]`}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role.Direction()), func(t *testing.T) {
			m, eff := NewMachine(tt.role, testPeer, "sub").Connected()
			assert.Equal(t, PhaseConnected, m.Phase)

			var got []string
			for _, f := range eff.Send {
				got = append(got, string(f))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnected_CustomSubscriptionID(t *testing.T) {
	_, eff := NewMachine(DownloadRole{}, testPeer, "mirror-1").Connected()
	require.Len(t, eff.Send, 1)
	assert.Equal(t, `["REQ","mirror-1",{"limit":0}]`, string(eff.Send[0]))
}

func connected(role Role) Machine {
	m, _ := NewMachine(role, testPeer, "sub").Connected()
	return m
}

func TestHandle_EOSEGoesLive(t *testing.T) {
	m, eff, err := connected(DownloadRole{}).Handle([]byte(`["EOSE","sub"]`))
	require.NoError(t, err)
	assert.True(t, eff.Live)
	assert.Equal(t, PhaseLive, m.Phase)
	assert.Empty(t, eff.Send)
}

func TestHandle_Notice(t *testing.T) {
	_, eff, err := connected(UploadRole{}).Handle([]byte(`["NOTICE","slow down"]`))
	require.NoError(t, err)
	assert.Equal(t, "slow down", eff.Notice)
}

func TestHandle_OK(t *testing.T) {
	_, eff, err := connected(UploadRole{}).Handle([]byte(`["OK","abc",true,""]`))
	require.NoError(t, err)
	assert.Nil(t, eff.Rejected)

	_, eff, err = connected(UploadRole{}).Handle([]byte(`["OK","abc",false,"blocked: spam"]`))
	require.NoError(t, err)
	require.NotNil(t, eff.Rejected)
	assert.Equal(t, "abc", eff.Rejected.ID)
	assert.Equal(t, "blocked: spam", eff.Rejected.Message)

	_, eff, err = connected(UploadRole{}).Handle([]byte(`["OK","abc",false,{"code":1}]`))
	require.NoError(t, err)
	require.NotNil(t, eff.Rejected)
	assert.Equal(t, `{"code":1}`, eff.Rejected.Message)
}

func TestHandle_EventDownloads(t *testing.T) {
	id, raw := testEvent(t, 1)
	frame := append(append([]byte(`["EVENT","sub",`), raw...), ']')

	for _, role := range []Role{DownloadRole{}, BidirectionalRole{}} {
		_, eff, err := connected(role).Handle(frame)
		require.NoError(t, err)
		require.NotNil(t, eff.Ingest, "role %s", role.Direction())
		assert.Equal(t, id, eff.Ingest.ID)
		assert.JSONEq(t, string(raw), string(eff.Ingest.Payload))
	}
}

func TestHandle_EventOnUploadOnlyIsIgnored(t *testing.T) {
	_, raw := testEvent(t, 1)
	frame := append(append([]byte(`["EVENT","sub",`), raw...), ']')

	_, eff, err := connected(UploadRole{}).Handle(frame)
	require.NoError(t, err)
	assert.True(t, eff.Unexpected)
	assert.Nil(t, eff.Ingest)

	// Even a truncated EVENT is only a warning when not downloading.
	_, eff, err = connected(UploadRole{}).Handle([]byte(`["EVENT","sub"]`))
	require.NoError(t, err)
	assert.True(t, eff.Unexpected)
}

func TestHandle_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		reason string
	}{
		{"object", `{"EVENT":1}`, "unexpected message"},
		{"string", `"EVENT"`, "unexpected message"},
		{"not json", `hello`, "unexpected message"},
		{"empty array", `[]`, "array too short"},
		{"single element", `["EOSE"]`, "array too short"},
		{"unknown tag", `["BADTAG",1]`, "unexpected first element"},
		{"numeric tag", `[1,2]`, "unexpected first element"},
		{"client tag", `["REQ","sub",{}]`, "unexpected first element"},
		{"ok missing flag", `["OK","abc"]`, "array too short"},
		{"ok non-bool flag", `["OK","abc","yes"]`, "OK flag is not a boolean"},
		{"event missing body", `["EVENT","sub"]`, "array too short"},
		{"event not object", `["EVENT","sub",42]`, errEventMalformed.Error()},
		{"event without id", `["EVENT","sub",{"kind":1}]`, errEventNoID.Error()},
		{"event numeric id", `["EVENT","sub",{"id":7}]`, errEventMalformed.Error()},
		{"event short id", `["EVENT","sub",{"id":"abcd"}]`, errEventBadID.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := connected(DownloadRole{})
			next, eff, err := m.Handle([]byte(tt.frame))
			require.Error(t, err)

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, testPeer.Name, perr.Peer)
			assert.Equal(t, tt.frame, perr.Frame)
			assert.Nil(t, eff.Ingest)
			assert.Equal(t, m.Frames+1, next.Frames)
		})
	}
}

func TestHandle_IsPure(t *testing.T) {
	m := connected(DownloadRole{})
	next, _, err := m.Handle([]byte(`["EOSE","sub"]`))
	require.NoError(t, err)
	assert.Equal(t, PhaseConnected, m.Phase)
	assert.Equal(t, PhaseLive, next.Phase)
	assert.Equal(t, PhaseDisconnected, next.Disconnected().Phase)
}

func TestTruncateFrame(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateFrame(long)
	assert.Len(t, got, 200)
	assert.Equal(t, "...", got[197:])
	assert.Equal(t, "short", truncateFrame([]byte("short")))
}
