package dto

import "time"

type DeviceRegisterRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
	Platform    string `json:"platform,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Language    string `json:"language,omitempty"`
}

type DeviceRenameRequest struct {
	Name string `json:"name"`
}

type DeviceResponse struct {
	DeviceID   int64     `json:"device_id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type DeviceRegisterResponse struct {
	Device  DeviceResponse `json:"device"`
	Created bool           `json:"created"`
}

type DeviceListResponse struct {
	Devices []DeviceResponse `json:"devices"`
	Limit   int              `json:"limit"`
}

// DeviceLimitResponse is the conflict body for a full roster. It
// extends the usual {code,message} error shape with the slot count so
// the client can render "2 of 2 devices in use" without a second call.
type DeviceLimitResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeviceCount int    `json:"device_count"`
}

type DeviceVerifyRequest struct {
	Fingerprint string `json:"fingerprint"`
}

type DeviceVerifyResponse struct {
	Registered      bool `json:"registered"`
	DeviceCount     int  `json:"device_count"`
	CanAutoRegister bool `json:"can_auto_register"`
	Limit           int  `json:"limit"`
}
