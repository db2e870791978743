package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

type stubStore struct {
	record      pgrepo.DeviceRecord
	registerErr error
	created     bool
	findErr     error
	removeErr   error
	count       int

	registerCalls int
	lastLimit     int
	lastMeta      pgrepo.DeviceMetadata
}

func (s *stubStore) Register(ctx context.Context, userID int64, fingerprint string, meta pgrepo.DeviceMetadata, limit int, now time.Time) (pgrepo.DeviceRecord, bool, error) {
	s.registerCalls++
	s.lastLimit = limit
	s.lastMeta = meta
	if s.registerErr != nil {
		return pgrepo.DeviceRecord{}, false, s.registerErr
	}
	return s.record, s.created, nil
}

func (s *stubStore) FindByFingerprint(ctx context.Context, userID int64, fingerprint string) (pgrepo.DeviceRecord, error) {
	if s.findErr != nil {
		return pgrepo.DeviceRecord{}, s.findErr
	}
	return s.record, nil
}

func (s *stubStore) CountByUser(ctx context.Context, userID int64) (int, error) {
	return s.count, nil
}

func (s *stubStore) ListByUser(ctx context.Context, userID int64) ([]pgrepo.DeviceRecord, error) {
	return []pgrepo.DeviceRecord{s.record}, nil
}

func (s *stubStore) Remove(ctx context.Context, userID, deviceID int64) error {
	return s.removeErr
}

func (s *stubStore) Rename(ctx context.Context, userID, deviceID int64, name string) (pgrepo.DeviceRecord, error) {
	record := s.record
	record.Name = name
	return record, nil
}

func newTestService(store *stubStore) *Service {
	return NewService(store, Config{Limit: 2}, zap.NewNop())
}

func TestRegisterNewDevice(t *testing.T) {
	store := &stubStore{record: pgrepo.DeviceRecord{ID: 11, UserID: 7, Fingerprint: "fp-a"}, created: true}
	svc := newTestService(store)

	record, created, err := svc.Register(context.Background(), RegisterInput{
		UserID:      7,
		Fingerprint: "fp-a",
		Platform:    "macOS",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !created {
		t.Fatalf("expected a newly claimed slot")
	}
	if record.ID != 11 {
		t.Fatalf("unexpected device id %d", record.ID)
	}
	if store.lastLimit != 2 {
		t.Fatalf("expected limit 2 to reach the store, got %d", store.lastLimit)
	}
}

func TestRegisterDefaultsNameToPlatform(t *testing.T) {
	store := &stubStore{created: true}
	svc := newTestService(store)

	if _, _, err := svc.Register(context.Background(), RegisterInput{
		UserID:      7,
		Fingerprint: "fp-a",
		Platform:    "iPadOS",
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if store.lastMeta.Name != "iPadOS" {
		t.Fatalf("unnamed device must default to its platform, got %q", store.lastMeta.Name)
	}
}

func TestRegisterLimitExceeded(t *testing.T) {
	store := &stubStore{registerErr: pgrepo.ErrDeviceLimitExceeded}
	svc := newTestService(store)

	_, _, err := svc.Register(context.Background(), RegisterInput{UserID: 7, Fingerprint: "fp-c"})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("refusal must carry the roster size, got %T", err)
	}
	if limitErr.DeviceCount != 2 {
		t.Fatalf("expected device count 2 in refusal, got %d", limitErr.DeviceCount)
	}
}

func TestRegisterRequiresFingerprint(t *testing.T) {
	svc := newTestService(&stubStore{})

	_, _, err := svc.Register(context.Background(), RegisterInput{UserID: 7, Fingerprint: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestVerifyRegisteredDevice(t *testing.T) {
	svc := newTestService(&stubStore{record: pgrepo.DeviceRecord{ID: 11, Fingerprint: "fp-a"}, count: 2})

	result, err := svc.Verify(context.Background(), 7, "fp-a")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Registered {
		t.Fatalf("registered fingerprint must verify")
	}
	if result.DeviceCount != 2 {
		t.Fatalf("unexpected device count %d", result.DeviceCount)
	}
}

func TestVerifyUnregisteredWithFreeSlot(t *testing.T) {
	svc := newTestService(&stubStore{findErr: pgrepo.ErrDeviceNotFound, count: 1})

	result, err := svc.Verify(context.Background(), 7, "fp-z")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Registered {
		t.Fatalf("unregistered fingerprint must not verify")
	}
	if !result.CanAutoRegister {
		t.Fatalf("one of two slots is free, auto-register must be possible")
	}
}

func TestVerifyUnregisteredWithFullRoster(t *testing.T) {
	svc := newTestService(&stubStore{findErr: pgrepo.ErrDeviceNotFound, count: 2})

	result, err := svc.Verify(context.Background(), 7, "fp-z")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Registered || result.CanAutoRegister {
		t.Fatalf("full roster must refuse auto-register: %+v", result)
	}
}

func TestRemoveForeignDevice(t *testing.T) {
	svc := newTestService(&stubStore{removeErr: pgrepo.ErrDeviceNotFound})

	err := svc.Remove(context.Background(), 7, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
