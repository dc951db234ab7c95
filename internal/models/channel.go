package models

// ChannelStatus tracks the room's broadcast state as seen by viewers.
type ChannelStatus string

const (
	// StatusOffline means no connection holds the room's write lease.
	StatusOffline ChannelStatus = "offline"
	// StatusOnline means a lease holder is connected but its upstream chat
	// bridge is not.
	StatusOnline ChannelStatus = "online"
	// StatusLive means the lease holder's chat bridge reports connected.
	StatusLive ChannelStatus = "live"
)

// Owner identifies the broadcaster currently holding the room lease.
type Owner struct {
	Login       string `json:"login"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// ChannelState is the lease-derived room status broadcast to every connection.
type ChannelState struct {
	Status ChannelStatus `json:"status"`
	Owner  *Owner        `json:"owner"`
}

// OfflineChannel is the state of a room with no lease holder.
func OfflineChannel() ChannelState {
	return ChannelState{Status: StatusOffline, Owner: nil}
}
