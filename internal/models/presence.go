package models

import "time"

// PresenceRecord is one live connection of an admin on a presence channel.
// ConnID distinguishes tabs; consumers only ever see one record per admin.
type PresenceRecord struct {
	Admin      AdminIdentity `json:"admin"`
	ChannelKey string        `json:"channel_key"`
	ConnID     string        `json:"conn_id"`
	JoinedAt   time.Time     `json:"joined_at"`
	LastSeen   time.Time     `json:"last_seen"`
}
