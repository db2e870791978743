package model

import "time"

// Enrollment grants course-viewing rights. Revocation is soft: the row
// stays for history and the active pair constraint only covers rows with
// a nil RevokedAt.
type Enrollment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	CourseID   int64      `json:"course_id"`
	EnrolledAt time.Time  `json:"enrolled_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

func (e Enrollment) ActiveAt(at time.Time) bool {
	if e.RevokedAt != nil {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(at) {
		return false
	}
	return true
}
