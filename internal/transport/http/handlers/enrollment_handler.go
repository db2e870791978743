package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	enrollsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/enrollments"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

type EnrollmentHandler struct {
	enrollments *enrollsvc.Service
}

func NewEnrollmentHandler(enrollments *enrollsvc.Service) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// ListMine is the user's "my courses" endpoint.
func (h *EnrollmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.enrollments == nil {
		writeInternal(w, "ENROLLMENT_SERVICE_UNAVAILABLE", "enrollment service is unavailable")
		return
	}

	records, err := h.enrollments.ListMine(r.Context(), identity.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load enrollments")
		return
	}

	resp := dto.EnrollmentListResponse{Enrollments: make([]dto.EnrollmentResponse, 0, len(records))}
	for _, record := range records {
		resp.Enrollments = append(resp.Enrollments, enrollmentResponse(record))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// Grant and Revoke are mounted behind the admin middleware for manual
// comps and support cases.

func (h *EnrollmentHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.enrollments == nil {
		writeInternal(w, "ENROLLMENT_SERVICE_UNAVAILABLE", "enrollment service is unavailable")
		return
	}

	var req dto.EnrollmentGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, _, err := h.enrollments.Grant(r.Context(), req.UserID, req.CourseID)
	if err != nil {
		switch {
		case errors.Is(err, enrollsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid grant payload")
		case errors.Is(err, enrollsvc.ErrNotFound):
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to grant enrollment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, enrollmentResponse(record))
}

func (h *EnrollmentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid user id")
		return
	}
	courseID, ok := pathID(r, "courseID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		return
	}
	if h.enrollments == nil {
		writeInternal(w, "ENROLLMENT_SERVICE_UNAVAILABLE", "enrollment service is unavailable")
		return
	}

	revoked, err := h.enrollments.Revoke(r.Context(), userID, courseID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to revoke enrollment")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.EnrollmentRevokeResponse{OK: true, Revoked: revoked})
}

func enrollmentResponse(record pgrepo.EnrollmentRecord) dto.EnrollmentResponse {
	return dto.EnrollmentResponse{
		EnrollmentID: record.ID,
		CourseID:     record.CourseID,
		EnrolledAt:   record.EnrolledAt,
		ExpiresAt:    record.ExpiresAt,
	}
}
