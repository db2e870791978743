package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	redisrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/redis"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/services/devices"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotEntitled  = errors.New("user is not entitled to this course")
	ErrDeviceDenied = errors.New("device is not allowed to play")
	ErrTicketDenied = errors.New("playback ticket is invalid")
)

// DeviceLimitError is the ErrDeviceDenied variant raised by a full
// roster. It carries the slot count so the refusal can tell the user
// how many devices are holding slots. errors.Is matches ErrDeviceDenied.
type DeviceLimitError struct {
	DeviceCount int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device is not allowed to play: %d devices registered", e.DeviceCount)
}

func (e *DeviceLimitError) Is(target error) bool {
	return target == ErrDeviceDenied
}

type EntitlementChecker interface {
	HasAccess(ctx context.Context, userID, courseID int64) (bool, error)
}

type TicketStore interface {
	Put(ctx context.Context, record redisrepo.PlaybackTicketRecord, ttl time.Duration) error
	Get(ctx context.Context, ticketID string) (redisrepo.PlaybackTicketRecord, bool, error)
	Revoke(ctx context.Context, ticketID string) error
}

// URLSigner produces a time-limited link to a video object. The minio
// implementation lives in signer.go; tests plug in a fake.
type URLSigner interface {
	SignGet(ctx context.Context, object string, expires time.Duration) (string, error)
}

// Service is the playback gate. Every play request must pass three
// checks in order: an active enrollment, a device slot, and only then a
// ticket plus a presigned URL. The checks are ordered so a full device
// roster never leaks whether the user owns the course.
type Service struct {
	entitlements EntitlementChecker
	tickets      TicketStore
	signer       URLSigner
	metrics      *metrics.Metrics
	logger       *zap.Logger

	registerDevice func(ctx context.Context, in devices.RegisterInput) (bool, error)

	ticketTTL    time.Duration
	signedURLTTL time.Duration
	now          func() time.Time
	newTicketID  func() string
}

type Config struct {
	TicketTTL    time.Duration
	SignedURLTTL time.Duration
}

type AuthorizeInput struct {
	UserID      int64
	CourseID    int64
	LessonKey   string
	Fingerprint string

	// Device metadata, forwarded when the fingerprint claims a new slot.
	DeviceName string
	Platform   string
	UserAgent  string
	Language   string
}

type Grant struct {
	TicketID  string
	URL       string
	ExpiresAt time.Time
}

// registerVia reduces devices.Service.Register to what the gate needs:
// did the fingerprint end up holding a slot.
func registerVia(svc *devices.Service) func(ctx context.Context, in devices.RegisterInput) (bool, error) {
	return func(ctx context.Context, in devices.RegisterInput) (bool, error) {
		_, _, err := svc.Register(ctx, in)
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func NewService(entitlements EntitlementChecker, deviceSvc *devices.Service, tickets TicketStore, signer URLSigner, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 4 * time.Hour
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}

	s := &Service{
		entitlements: entitlements,
		tickets:      tickets,
		signer:       signer,
		logger:       logger,
		ticketTTL:    cfg.TicketTTL,
		signedURLTTL: cfg.SignedURLTTL,
		now:          time.Now,
		newTicketID:  func() string { return uuid.NewString() },
	}
	if deviceSvc != nil {
		s.registerDevice = registerVia(deviceSvc)
	}
	return s
}

func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Authorize runs the gate and, on success, issues a ticket bound to the
// user, course, and fingerprint plus a presigned URL for the lesson
// object. An unknown fingerprint claims a slot as part of the request;
// a full roster denies playback without touching entitlement state.
func (s *Service) Authorize(ctx context.Context, in AuthorizeInput) (Grant, error) {
	if s.entitlements == nil || s.tickets == nil || s.signer == nil || s.registerDevice == nil {
		return Grant{}, fmt.Errorf("playback dependencies are not configured")
	}
	fingerprint := strings.TrimSpace(in.Fingerprint)
	lessonKey := strings.TrimSpace(in.LessonKey)
	if in.UserID <= 0 || in.CourseID <= 0 || fingerprint == "" || lessonKey == "" {
		return Grant{}, ErrValidation
	}

	entitled, err := s.entitlements.HasAccess(ctx, in.UserID, in.CourseID)
	if err != nil {
		return Grant{}, err
	}
	if !entitled {
		s.deny("not_entitled")
		return Grant{}, ErrNotEntitled
	}

	if _, err := s.registerDevice(ctx, devices.RegisterInput{
		UserID:      in.UserID,
		Fingerprint: fingerprint,
		Name:        in.DeviceName,
		Platform:    in.Platform,
		UserAgent:   in.UserAgent,
		Language:    in.Language,
	}); err != nil {
		if errors.Is(err, devices.ErrLimitExceeded) {
			s.deny("device_limit")
			denied := &DeviceLimitError{}
			var limitErr *devices.LimitError
			if errors.As(err, &limitErr) {
				denied.DeviceCount = limitErr.DeviceCount
			}
			return Grant{}, denied
		}
		return Grant{}, err
	}

	now := s.now().UTC()
	ticket := redisrepo.PlaybackTicketRecord{
		TicketID:    s.newTicketID(),
		UserID:      in.UserID,
		CourseID:    in.CourseID,
		Fingerprint: fingerprint,
		ExpiresAt:   now.Add(s.ticketTTL),
	}
	if err := s.tickets.Put(ctx, ticket, s.ticketTTL); err != nil {
		return Grant{}, err
	}

	signed, err := s.signer.SignGet(ctx, lessonKey, s.signedURLTTL)
	if err != nil {
		return Grant{}, err
	}

	if s.metrics != nil {
		s.metrics.PlaybackDecisions.WithLabelValues("allowed").Inc()
	}
	s.logger.Info("playback allowed",
		zap.Int64("user_id", in.UserID),
		zap.Int64("course_id", in.CourseID),
		zap.String("ticket_id", ticket.TicketID),
	)

	return Grant{
		TicketID:  ticket.TicketID,
		URL:       signed,
		ExpiresAt: ticket.ExpiresAt,
	}, nil
}

// Validate is called by the streaming edge on each segment request. It
// rebinds the ticket to the presented user and fingerprint so a leaked
// ticket is useless on another device, and re-checks the enrollment so
// access pulled mid-session (refund, manual revoke) stops the stream
// before the ticket's TTL runs out.
func (s *Service) Validate(ctx context.Context, ticketID string, userID int64, fingerprint string) (redisrepo.PlaybackTicketRecord, error) {
	if s.tickets == nil || s.entitlements == nil {
		return redisrepo.PlaybackTicketRecord{}, fmt.Errorf("playback dependencies are not configured")
	}
	ticketID = strings.TrimSpace(ticketID)
	fingerprint = strings.TrimSpace(fingerprint)
	if ticketID == "" || userID <= 0 || fingerprint == "" {
		return redisrepo.PlaybackTicketRecord{}, ErrValidation
	}

	record, found, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return redisrepo.PlaybackTicketRecord{}, err
	}
	if !found || record.UserID != userID || record.Fingerprint != fingerprint {
		s.deny("bad_ticket")
		return redisrepo.PlaybackTicketRecord{}, ErrTicketDenied
	}
	if !record.ExpiresAt.IsZero() && !record.ExpiresAt.After(s.now().UTC()) {
		s.deny("expired_ticket")
		return redisrepo.PlaybackTicketRecord{}, ErrTicketDenied
	}

	entitled, err := s.entitlements.HasAccess(ctx, record.UserID, record.CourseID)
	if err != nil {
		return redisrepo.PlaybackTicketRecord{}, err
	}
	if !entitled {
		// Kill the ticket too; the next edge node should not have to
		// repeat the entitlement round trip for a dead grant.
		if revokeErr := s.tickets.Revoke(ctx, ticketID); revokeErr != nil {
			s.logger.Warn("failed to revoke ticket for lapsed enrollment",
				zap.String("ticket_id", ticketID),
				zap.Error(revokeErr),
			)
		}
		s.deny("access_revoked")
		return redisrepo.PlaybackTicketRecord{}, ErrTicketDenied
	}

	return record, nil
}

// Revoke kills a live ticket, used when access is pulled mid-session.
func (s *Service) Revoke(ctx context.Context, ticketID string) error {
	if s.tickets == nil {
		return fmt.Errorf("playback dependencies are not configured")
	}
	if strings.TrimSpace(ticketID) == "" {
		return ErrValidation
	}
	return s.tickets.Revoke(ctx, ticketID)
}

func (s *Service) deny(cause string) {
	if s.metrics != nil {
		s.metrics.PlaybackDecisions.WithLabelValues("denied_" + cause).Inc()
	}
}

// MinioSigner presigns GET URLs against the bucket that holds the
// course videos.
type MinioSigner struct {
	client *minio.Client
	bucket string
}

func NewMinioSigner(client *minio.Client, bucket string) *MinioSigner {
	return &MinioSigner{client: client, bucket: bucket}
}

func (s *MinioSigner) SignGet(ctx context.Context, object string, expires time.Duration) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("storage client is nil")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", fmt.Errorf("object key is required")
	}

	signed, err := s.client.PresignedGetObject(ctx, s.bucket, object, expires, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign playback url: %w", err)
	}

	return signed.String(), nil
}
