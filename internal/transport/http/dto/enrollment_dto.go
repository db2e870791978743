package dto

import "time"

type EnrollmentGrantRequest struct {
	UserID   int64 `json:"user_id"`
	CourseID int64 `json:"course_id"`
}

type EnrollmentResponse struct {
	EnrollmentID int64      `json:"enrollment_id"`
	CourseID     int64      `json:"course_id"`
	EnrolledAt   time.Time  `json:"enrolled_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type EnrollmentListResponse struct {
	Enrollments []EnrollmentResponse `json:"enrollments"`
}

type EnrollmentRevokeResponse struct {
	OK      bool `json:"ok"`
	Revoked bool `json:"revoked"`
}
