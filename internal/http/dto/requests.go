package dto

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type BoardMoveRequest struct {
	RecordID string `json:"record_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type CreateAdminRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Role        string  `json:"role"`
	DisplayName *string `json:"display_name,omitempty"`
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type ChangePasswordRequest struct {
	Password string `json:"password"`
}

type TwoFactorRequest struct {
	Enabled bool `json:"enabled"`
}

type ModulePermissionRequest struct {
	Module  string `json:"module"`
	CanEdit bool   `json:"can_edit"`
}

// WSClientMessage is a frame sent by the browser over /ws.
type WSClientMessage struct {
	Action         string `json:"action"` // join / leave / heartbeat / watch / unwatch / read / read_all
	Channel        string `json:"channel,omitempty"`
	ApplicationID  string `json:"application_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}
