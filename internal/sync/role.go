package sync

import "encoding/json"

// Role is the closed set of connection behaviours: DownloadRole,
// UploadRole and BidirectionalRole. Capabilities are asserted through the
// Downloader and Uploader interfaces, so an upload-only connection has no
// way to subscribe and a download-only one no way to scan.
type Role interface {
	Direction() Direction
	sealed()
}

// Downloader is implemented by roles that pull events from the peer.
type Downloader interface {
	Role
	// SubscribeFrame is the REQ sent once per connection establishment.
	SubscribeFrame(subID string) []byte
}

// Uploader is implemented by roles that push local events to the peer.
type Uploader interface {
	Role
	// EventFrame wraps a stored event payload for sending.
	EventFrame(payload json.RawMessage) []byte
}

// DownloadRole subscribes to the peer's stream and ingests what arrives.
type DownloadRole struct{}

func (DownloadRole) Direction() Direction { return Down }
func (DownloadRole) sealed()              {}

func (DownloadRole) SubscribeFrame(subID string) []byte { return encodeReq(subID) }

// UploadRole streams newly written local events to the peer.
type UploadRole struct{}

func (UploadRole) Direction() Direction { return Up }
func (UploadRole) sealed()              {}

func (UploadRole) EventFrame(payload json.RawMessage) []byte { return encodeEvent(payload) }

// BidirectionalRole does both.
type BidirectionalRole struct {
	DownloadRole
	UploadRole
}

func (BidirectionalRole) Direction() Direction { return Both }
func (BidirectionalRole) sealed()              {}

// RoleFor maps a direction to its role.
func RoleFor(d Direction) (Role, error) {
	switch d {
	case Down:
		return DownloadRole{}, nil
	case Up:
		return UploadRole{}, nil
	case Both:
		return BidirectionalRole{}, nil
	}
	return nil, &ConfigError{Field: "dir", Value: string(d), Reason: "should be one of up/down/both"}
}

var (
	_ Downloader = DownloadRole{}
	_ Uploader   = UploadRole{}
	_ Downloader = BidirectionalRole{}
	_ Uploader   = BidirectionalRole{}
)
