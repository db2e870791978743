package playback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redisrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/redis"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/services/devices"
)

type stubEntitlements struct {
	entitled bool
	err      error
}

func (s *stubEntitlements) HasAccess(ctx context.Context, userID, courseID int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.entitled, nil
}

type stubSigner struct {
	calls      int
	lastObject string
}

func (s *stubSigner) SignGet(ctx context.Context, object string, expires time.Duration) (string, error) {
	s.calls++
	s.lastObject = object
	return "https://cdn.example.com/" + object + "?sig=abc", nil
}

func newTicketStore(t *testing.T) *redisrepo.PlaybackTicketRepo {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisrepo.NewPlaybackTicketRepo(client)
}

func newTestService(t *testing.T, entitlements *stubEntitlements, signer *stubSigner, registerErr error) *Service {
	t.Helper()
	svc := NewService(entitlements, nil, newTicketStore(t), signer, Config{
		TicketTTL:    4 * time.Hour,
		SignedURLTTL: 15 * time.Minute,
	}, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC) }
	svc.newTicketID = func() string { return "ticket-0001" }
	svc.registerDevice = func(ctx context.Context, in devices.RegisterInput) (bool, error) {
		if registerErr != nil {
			return false, registerErr
		}
		return true, nil
	}
	return svc
}

func allowInput() AuthorizeInput {
	return AuthorizeInput{
		UserID:      7,
		CourseID:    3,
		LessonKey:   "courses/3/lessons/12/master.m3u8",
		Fingerprint: "fp-a",
		Platform:    "macOS",
	}
}

func TestAuthorizeIssuesTicketAndURL(t *testing.T) {
	signer := &stubSigner{}
	svc := newTestService(t, &stubEntitlements{entitled: true}, signer, nil)

	grant, err := svc.Authorize(context.Background(), allowInput())
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if grant.TicketID != "ticket-0001" {
		t.Fatalf("unexpected ticket id %q", grant.TicketID)
	}
	if signer.lastObject != "courses/3/lessons/12/master.m3u8" {
		t.Fatalf("signer received wrong object %q", signer.lastObject)
	}
	want := time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC)
	if !grant.ExpiresAt.Equal(want) {
		t.Fatalf("expected ticket expiry %s, got %s", want, grant.ExpiresAt)
	}

	record, err := svc.Validate(context.Background(), grant.TicketID, 7, "fp-a")
	if err != nil {
		t.Fatalf("issued ticket must validate, got %v", err)
	}
	if record.CourseID != 3 {
		t.Fatalf("ticket bound to wrong course %d", record.CourseID)
	}
}

func TestAuthorizeDeniesWithoutEnrollment(t *testing.T) {
	signer := &stubSigner{}
	svc := newTestService(t, &stubEntitlements{entitled: false}, signer, nil)

	_, err := svc.Authorize(context.Background(), allowInput())
	if !errors.Is(err, ErrNotEntitled) {
		t.Fatalf("expected ErrNotEntitled, got %v", err)
	}
	if signer.calls != 0 {
		t.Fatalf("denied request must not sign a URL")
	}
}

func TestAuthorizeDeniesFullRoster(t *testing.T) {
	svc := newTestService(t, &stubEntitlements{entitled: true}, &stubSigner{}, &devices.LimitError{DeviceCount: 2})

	_, err := svc.Authorize(context.Background(), allowInput())
	if !errors.Is(err, ErrDeviceDenied) {
		t.Fatalf("expected ErrDeviceDenied, got %v", err)
	}

	var limitErr *DeviceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("denial must carry the roster size, got %T", err)
	}
	if limitErr.DeviceCount != 2 {
		t.Fatalf("expected device count 2 in denial, got %d", limitErr.DeviceCount)
	}
}

func TestValidateRejectsForeignFingerprint(t *testing.T) {
	svc := newTestService(t, &stubEntitlements{entitled: true}, &stubSigner{}, nil)

	grant, err := svc.Authorize(context.Background(), allowInput())
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}

	_, err = svc.Validate(context.Background(), grant.TicketID, 7, "fp-other")
	if !errors.Is(err, ErrTicketDenied) {
		t.Fatalf("ticket on another device must be rejected, got %v", err)
	}
}

func TestValidateRejectsUnknownTicket(t *testing.T) {
	svc := newTestService(t, &stubEntitlements{entitled: true}, &stubSigner{}, nil)

	_, err := svc.Validate(context.Background(), "ticket-missing", 7, "fp-a")
	if !errors.Is(err, ErrTicketDenied) {
		t.Fatalf("expected ErrTicketDenied, got %v", err)
	}
}

func TestValidateRejectsLapsedEnrollment(t *testing.T) {
	entitlements := &stubEntitlements{entitled: true}
	svc := newTestService(t, entitlements, &stubSigner{}, nil)

	grant, err := svc.Authorize(context.Background(), allowInput())
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if _, err := svc.Validate(context.Background(), grant.TicketID, 7, "fp-a"); err != nil {
		t.Fatalf("live enrollment must validate, got %v", err)
	}

	// Access pulled mid-session, e.g. an approved refund.
	entitlements.entitled = false

	if _, err := svc.Validate(context.Background(), grant.TicketID, 7, "fp-a"); !errors.Is(err, ErrTicketDenied) {
		t.Fatalf("ticket must die with the enrollment, got %v", err)
	}

	// The ticket itself is revoked, not just refused this once.
	entitlements.entitled = true
	if _, err := svc.Validate(context.Background(), grant.TicketID, 7, "fp-a"); !errors.Is(err, ErrTicketDenied) {
		t.Fatalf("revoked ticket must stay dead, got %v", err)
	}
}

func TestRevokeKillsLiveTicket(t *testing.T) {
	svc := newTestService(t, &stubEntitlements{entitled: true}, &stubSigner{}, nil)

	grant, err := svc.Authorize(context.Background(), allowInput())
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if err := svc.Revoke(context.Background(), grant.TicketID); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}

	if _, err := svc.Validate(context.Background(), grant.TicketID, 7, "fp-a"); !errors.Is(err, ErrTicketDenied) {
		t.Fatalf("revoked ticket must be rejected, got %v", err)
	}
}

func TestAuthorizePropagatesEntitlementError(t *testing.T) {
	failure := fmt.Errorf("store unavailable")
	svc := newTestService(t, &stubEntitlements{err: failure}, &stubSigner{}, nil)

	_, err := svc.Authorize(context.Background(), allowInput())
	if !errors.Is(err, failure) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
}
