package hub

import (
	"github.com/parlorchat/parlor/internal/model"
	"github.com/parlorchat/parlor/internal/protocol"
)

// JoinState is the per-session handshake state. A session participates in
// chat only after reaching StateJoined, which requires fingerprint
// verification first.
type JoinState int

const (
	// StateConnected: channel open, fingerprint not yet requested.
	StateConnected JoinState = iota
	// StateAwaitingVerification: fingerprint requested, not yet received.
	StateAwaitingVerification
	// StateVerified: fingerprint received and not banned.
	StateVerified
	// StateJoined: profile set, participating in chat.
	StateJoined
	// StateTerminated: closed by ban or disconnect.
	StateTerminated
)

func (s JoinState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateVerified:
		return "verified"
	case StateJoined:
		return "joined"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is one entry in the connection registry. Fake sessions are
// synthetic participants with no live channel; their client is nil and
// every delivery attempt to them is a no-op.
type Session struct {
	ID          string
	Addr        string // network address (host only), or a synthetic value for fakes
	Fingerprint string
	State       JoinState
	Profile     model.Profile
	Fake        bool

	client *Client

	// A join request arriving before verification completes is deferred.
	// Only the latest payload is kept; it is never double-queued.
	pendingJoin   *protocol.JoinRequest
	joinRequested bool
}

// Joined reports whether the session has completed the join handshake.
func (s *Session) Joined() bool {
	return s.State == StateJoined
}

// Live reports whether the session has a channel that can receive events.
func (s *Session) Live() bool {
	return s.client != nil
}
