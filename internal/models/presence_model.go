package models

// PresenceUser is the TTL-bound record of one user occupying a note room.
// Stored serialized in Redis under presence:{roomId}:{userId} so any instance
// can answer "who is in this room" without holding the socket.
type PresenceUser struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Color       string `json:"color"`
	ConnectedAt string `json:"connectedAt"`
}
