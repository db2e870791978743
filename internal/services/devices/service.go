package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/model"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/pkg/validate"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrLimitExceeded = errors.New("device limit exceeded")
	ErrNotFound      = errors.New("device not found")
)

// LimitError is the ErrLimitExceeded variant carrying the roster size,
// so the refusal can report how many slots are taken. errors.Is matches
// ErrLimitExceeded.
type LimitError struct {
	DeviceCount int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("device limit exceeded: %d devices registered", e.DeviceCount)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

type Store interface {
	Register(ctx context.Context, userID int64, fingerprint string, meta pgrepo.DeviceMetadata, limit int, now time.Time) (pgrepo.DeviceRecord, bool, error)
	FindByFingerprint(ctx context.Context, userID int64, fingerprint string) (pgrepo.DeviceRecord, error)
	CountByUser(ctx context.Context, userID int64) (int, error)
	ListByUser(ctx context.Context, userID int64) ([]pgrepo.DeviceRecord, error)
	Remove(ctx context.Context, userID, deviceID int64) error
	Rename(ctx context.Context, userID, deviceID int64, name string) (pgrepo.DeviceRecord, error)
}

// Service owns the per-user device roster behind the playback cap.
// Registration is first-come-first-served up to the limit; freeing a
// slot means removing a device here.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	limit   int
	now     func() time.Time
}

type Config struct {
	// Limit caps concurrent registered devices per user.
	Limit int
}

type RegisterInput struct {
	UserID      int64
	Fingerprint string
	Name        string
	Platform    string
	UserAgent   string
	Language    string
}

func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = model.DeviceSlotLimit
	}

	return &Service{
		store:  store,
		logger: logger,
		limit:  cfg.Limit,
		now:    time.Now,
	}
}

func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Register claims a device slot, or refreshes the row when the
// fingerprint is already known. A full roster refuses the newcomer with
// ErrLimitExceeded; re-registering a known device never counts against
// the cap.
func (s *Service) Register(ctx context.Context, in RegisterInput) (pgrepo.DeviceRecord, bool, error) {
	if s.store == nil {
		return pgrepo.DeviceRecord{}, false, fmt.Errorf("device store is not configured")
	}
	fingerprint := strings.TrimSpace(in.Fingerprint)
	if in.UserID <= 0 || !validate.Required(fingerprint) {
		return pgrepo.DeviceRecord{}, false, ErrValidation
	}

	meta := pgrepo.DeviceMetadata{
		Name:      strings.TrimSpace(in.Name),
		Platform:  strings.TrimSpace(in.Platform),
		UserAgent: strings.TrimSpace(in.UserAgent),
		Language:  strings.TrimSpace(in.Language),
	}
	if meta.Name == "" {
		meta.Name = defaultDeviceName(meta.Platform)
	}

	record, created, err := s.store.Register(ctx, in.UserID, fingerprint, meta, s.limit, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgrepo.ErrDeviceLimitExceeded) {
			if s.metrics != nil {
				s.metrics.DeviceRegistration.WithLabelValues("limit_exceeded").Inc()
			}
			return pgrepo.DeviceRecord{}, false, &LimitError{DeviceCount: s.limit}
		}
		return pgrepo.DeviceRecord{}, false, err
	}

	if s.metrics != nil {
		outcome := "refreshed"
		if created {
			outcome = "created"
		}
		s.metrics.DeviceRegistration.WithLabelValues(outcome).Inc()
	}
	if created {
		s.logger.Info("device registered",
			zap.Int64("user_id", in.UserID),
			zap.Int64("device_id", record.ID),
			zap.String("platform", meta.Platform),
		)
	}

	return record, created, nil
}

// VerifyResult tells a client whether its fingerprint holds a slot and
// whether an unregistered one could claim a free slot right now. The
// count is advisory: registration re-checks under a lock.
type VerifyResult struct {
	Registered      bool
	DeviceCount     int
	CanAutoRegister bool
}

// Verify reports the fingerprint's standing without claiming a slot.
func (s *Service) Verify(ctx context.Context, userID int64, fingerprint string) (VerifyResult, error) {
	if s.store == nil {
		return VerifyResult{}, fmt.Errorf("device store is not configured")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if userID <= 0 || fingerprint == "" {
		return VerifyResult{}, ErrValidation
	}

	count, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{DeviceCount: count}
	if _, err := s.store.FindByFingerprint(ctx, userID, fingerprint); err != nil {
		if !errors.Is(err, pgrepo.ErrDeviceNotFound) {
			return VerifyResult{}, err
		}
		result.CanAutoRegister = count < s.limit
		return result, nil
	}

	result.Registered = true
	return result, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]pgrepo.DeviceRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("device store is not configured")
	}
	if userID <= 0 {
		return nil, ErrValidation
	}
	return s.store.ListByUser(ctx, userID)
}

// Remove frees a slot. The store scopes the delete to the user, so a
// foreign device id reads as not found.
func (s *Service) Remove(ctx context.Context, userID, deviceID int64) error {
	if s.store == nil {
		return fmt.Errorf("device store is not configured")
	}
	if userID <= 0 || deviceID <= 0 {
		return ErrValidation
	}

	if err := s.store.Remove(ctx, userID, deviceID); err != nil {
		if errors.Is(err, pgrepo.ErrDeviceNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.logger.Info("device removed",
		zap.Int64("user_id", userID),
		zap.Int64("device_id", deviceID),
	)

	return nil
}

func (s *Service) Rename(ctx context.Context, userID, deviceID int64, name string) (pgrepo.DeviceRecord, error) {
	if s.store == nil {
		return pgrepo.DeviceRecord{}, fmt.Errorf("device store is not configured")
	}
	name = strings.TrimSpace(name)
	if userID <= 0 || deviceID <= 0 || !validate.Required(name) {
		return pgrepo.DeviceRecord{}, ErrValidation
	}

	record, err := s.store.Rename(ctx, userID, deviceID, name)
	if err != nil {
		if errors.Is(err, pgrepo.ErrDeviceNotFound) {
			return pgrepo.DeviceRecord{}, ErrNotFound
		}
		return pgrepo.DeviceRecord{}, err
	}

	return record, nil
}

func defaultDeviceName(platform string) string {
	if platform == "" {
		return "Unknown device"
	}
	return platform
}
