package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	devicesvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/devices"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

type DeviceHandler struct {
	devices *devicesvc.Service
	limit   int
}

func NewDeviceHandler(devices *devicesvc.Service, limit int) *DeviceHandler {
	return &DeviceHandler{devices: devices, limit: limit}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.devices == nil {
		writeInternal(w, "DEVICE_SERVICE_UNAVAILABLE", "device service is unavailable")
		return
	}

	var req dto.DeviceRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, created, err := h.devices.Register(r.Context(), devicesvc.RegisterInput{
		UserID:      identity.UserID,
		Fingerprint: req.Fingerprint,
		Name:        req.Name,
		Platform:    req.Platform,
		UserAgent:   req.UserAgent,
		Language:    req.Language,
	})
	if err != nil {
		switch {
		case errors.Is(err, devicesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid device payload")
		case errors.Is(err, devicesvc.ErrLimitExceeded):
			var limitErr *devicesvc.LimitError
			deviceCount := 0
			if errors.As(err, &limitErr) {
				deviceCount = limitErr.DeviceCount
			}
			writeDeviceLimit(w, deviceCount)
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to register device")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.DeviceRegisterResponse{
		Device:  deviceResponse(record),
		Created: created,
	})
}

// Verify lets the player check its standing before it hits the playback
// gate, so the UI can offer the remove-a-device screen up front.
func (h *DeviceHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.devices == nil {
		writeInternal(w, "DEVICE_SERVICE_UNAVAILABLE", "device service is unavailable")
		return
	}

	var req dto.DeviceVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.devices.Verify(r.Context(), identity.UserID, req.Fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, devicesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "fingerprint is required")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to verify device")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.DeviceVerifyResponse{
		Registered:      result.Registered,
		DeviceCount:     result.DeviceCount,
		CanAutoRegister: result.CanAutoRegister,
		Limit:           h.limit,
	})
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.devices == nil {
		writeInternal(w, "DEVICE_SERVICE_UNAVAILABLE", "device service is unavailable")
		return
	}

	records, err := h.devices.List(r.Context(), identity.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load devices")
		return
	}

	resp := dto.DeviceListResponse{
		Devices: make([]dto.DeviceResponse, 0, len(records)),
		Limit:   h.limit,
	}
	for _, record := range records {
		resp.Devices = append(resp.Devices, deviceResponse(record))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	deviceID, ok := pathID(r, "deviceID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid device id")
		return
	}
	if h.devices == nil {
		writeInternal(w, "DEVICE_SERVICE_UNAVAILABLE", "device service is unavailable")
		return
	}

	if err := h.devices.Remove(r.Context(), identity.UserID, deviceID); err != nil {
		switch {
		case errors.Is(err, devicesvc.ErrNotFound):
			writeNotFound(w, "DEVICE_NOT_FOUND", "device not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to remove device")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *DeviceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	deviceID, ok := pathID(r, "deviceID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid device id")
		return
	}
	if h.devices == nil {
		writeInternal(w, "DEVICE_SERVICE_UNAVAILABLE", "device service is unavailable")
		return
	}

	var req dto.DeviceRenameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.devices.Rename(r.Context(), identity.UserID, deviceID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, devicesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid device name")
		case errors.Is(err, devicesvc.ErrNotFound):
			writeNotFound(w, "DEVICE_NOT_FOUND", "device not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to rename device")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, deviceResponse(record))
}

func deviceResponse(record pgrepo.DeviceRecord) dto.DeviceResponse {
	return dto.DeviceResponse{
		DeviceID:   record.ID,
		Name:       record.Name,
		Platform:   record.Platform,
		LastUsedAt: record.LastUsedAt,
		CreatedAt:  record.CreatedAt,
	}
}
