package dto

import "time"

type PlaybackRequest struct {
	CourseID    int64  `json:"course_id"`
	LessonKey   string `json:"lesson_key"`
	Fingerprint string `json:"fingerprint"`

	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Language   string `json:"language,omitempty"`
}

type PlaybackResponse struct {
	TicketID  string    `json:"ticket_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PlaybackValidateRequest struct {
	TicketID    string `json:"ticket_id"`
	Fingerprint string `json:"fingerprint"`
}

type PlaybackValidateResponse struct {
	OK       bool  `json:"ok"`
	CourseID int64 `json:"course_id"`
}
