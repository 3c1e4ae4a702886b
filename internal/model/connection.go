package model

// Mode names the transport currently carrying writes.
type Mode string

const (
	// ModeRealtime means the persistent channel is connected and preferred.
	ModeRealtime Mode = "realtime"
	// ModeFallback means writes go over plain request/response.
	ModeFallback Mode = "fallback"
	// ModeOffline means no transport is usable; writes must be queued.
	ModeOffline Mode = "offline"
)

// ConnectionState is process-wide transport health, owned by the transport
// selector and read by the reconciler to decide whether a local edit is
// sent immediately or queued.
type ConnectionState struct {
	ChannelConnected bool `json:"channel_connected"`
	Mode             Mode `json:"mode"`
}

// Offline reports whether edits must be routed to the offline queue.
func (s ConnectionState) Offline() bool { return s.Mode == ModeOffline }
