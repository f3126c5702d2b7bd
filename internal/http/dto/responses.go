package dto

type AuthResponse struct {
	Token string `json:"token"`
	Admin any    `json:"admin"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type MeResponse struct {
	Admin   any             `json:"admin"`
	CanEdit map[string]bool `json:"can_edit"`
}

type NotificationsResponse struct {
	Items       any `json:"items"`
	UnreadCount int `json:"unread_count"`
}

// WSServerMessage is a frame pushed to the browser over /ws.
type WSServerMessage struct {
	Type  string `json:"type"` // presence / viewers / notifications / error
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
