package handlers

import (
	"errors"
	"net/http"

	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	playbacksvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/playback"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

type PlaybackHandler struct {
	playback *playbacksvc.Service
}

func NewPlaybackHandler(playback *playbacksvc.Service) *PlaybackHandler {
	return &PlaybackHandler{playback: playback}
}

func (h *PlaybackHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.playback == nil {
		writeInternal(w, "PLAYBACK_SERVICE_UNAVAILABLE", "playback service is unavailable")
		return
	}

	var req dto.PlaybackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	grant, err := h.playback.Authorize(r.Context(), playbacksvc.AuthorizeInput{
		UserID:      identity.UserID,
		CourseID:    req.CourseID,
		LessonKey:   req.LessonKey,
		Fingerprint: req.Fingerprint,
		DeviceName:  req.DeviceName,
		Platform:    req.Platform,
		UserAgent:   req.UserAgent,
		Language:    req.Language,
	})
	if err != nil {
		switch {
		case errors.Is(err, playbacksvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid playback payload")
		case errors.Is(err, playbacksvc.ErrNotEntitled):
			writeForbidden(w, "NOT_ENTITLED", "you do not have access to this course")
		case errors.Is(err, playbacksvc.ErrDeviceDenied):
			var limitErr *playbacksvc.DeviceLimitError
			deviceCount := 0
			if errors.As(err, &limitErr) {
				deviceCount = limitErr.DeviceCount
			}
			writeDeviceLimit(w, deviceCount)
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to authorize playback")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PlaybackResponse{
		TicketID:  grant.TicketID,
		URL:       grant.URL,
		ExpiresAt: grant.ExpiresAt,
	})
}

// Validate serves the streaming edge. It answers whether a ticket is
// live and bound to the presenting user and device.
func (h *PlaybackHandler) Validate(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.playback == nil {
		writeInternal(w, "PLAYBACK_SERVICE_UNAVAILABLE", "playback service is unavailable")
		return
	}

	var req dto.PlaybackValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.playback.Validate(r.Context(), req.TicketID, identity.UserID, req.Fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, playbacksvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid ticket payload")
		case errors.Is(err, playbacksvc.ErrTicketDenied):
			writeForbidden(w, "TICKET_DENIED", "playback ticket is not valid")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to validate ticket")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PlaybackValidateResponse{
		OK:       true,
		CourseID: record.CourseID,
	})
}
