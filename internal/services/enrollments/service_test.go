package enrollments

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

type stubStore struct {
	active    pgrepo.EnrollmentRecord
	activeErr error
	list      []pgrepo.EnrollmentRecord

	grantCalls    int
	lastExpiresAt *time.Time
	revokeChanged bool
	revokeCalls   int
}

func (s *stubStore) Grant(ctx context.Context, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (pgrepo.EnrollmentRecord, bool, error) {
	s.grantCalls++
	s.lastExpiresAt = expiresAt
	return pgrepo.EnrollmentRecord{ID: 61, UserID: userID, CourseID: courseID, EnrolledAt: enrolledAt, ExpiresAt: expiresAt}, true, nil
}

func (s *stubStore) Revoke(ctx context.Context, userID, courseID int64, revokedAt time.Time) (pgrepo.EnrollmentRecord, bool, error) {
	s.revokeCalls++
	return pgrepo.EnrollmentRecord{}, s.revokeChanged, nil
}

func (s *stubStore) FindActive(ctx context.Context, userID, courseID int64) (pgrepo.EnrollmentRecord, error) {
	if s.activeErr != nil {
		return pgrepo.EnrollmentRecord{}, s.activeErr
	}
	return s.active, nil
}

func (s *stubStore) ListActiveByUser(ctx context.Context, userID int64) ([]pgrepo.EnrollmentRecord, error) {
	return s.list, nil
}

type stubCourseStore struct {
	course pgrepo.CourseRecord
	err    error
}

func (s *stubCourseStore) FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error) {
	if s.err != nil {
		return pgrepo.CourseRecord{}, s.err
	}
	return s.course, nil
}

func newTestService(store *stubStore, courses *stubCourseStore) *Service {
	svc := NewService(store, courses, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestGrantUsesCourseAccessWindow(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store, &stubCourseStore{course: pgrepo.CourseRecord{ID: 3, AccessDays: 90}})

	_, created, err := svc.Grant(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if !created {
		t.Fatalf("expected a created enrollment")
	}
	if store.lastExpiresAt == nil {
		t.Fatalf("90-day course must produce an expiring enrollment")
	}
	want := time.Date(2026, 6, 8, 8, 0, 0, 0, time.UTC)
	if !store.lastExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, store.lastExpiresAt)
	}
}

func TestGrantUnlimitedCourseHasNoExpiry(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store, &stubCourseStore{course: pgrepo.CourseRecord{ID: 3, AccessDays: 0}})

	_, _, err := svc.Grant(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if store.lastExpiresAt != nil {
		t.Fatalf("unlimited course must not expire, got %s", store.lastExpiresAt)
	}
}

func TestGrantUnknownCourse(t *testing.T) {
	svc := newTestService(&stubStore{}, &stubCourseStore{err: pgrepo.ErrCourseNotFound})

	_, _, err := svc.Grant(context.Background(), 7, 404)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeMissingEnrollmentIsNoop(t *testing.T) {
	store := &stubStore{revokeChanged: false}
	svc := newTestService(store, &stubCourseStore{})

	changed, err := svc.Revoke(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if changed {
		t.Fatalf("revoking nothing must report changed=false")
	}
}

func TestHasAccessActive(t *testing.T) {
	svc := newTestService(&stubStore{active: pgrepo.EnrollmentRecord{ID: 61, UserID: 7, CourseID: 3}}, &stubCourseStore{})

	ok, err := svc.HasAccess(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("HasAccess returned error: %v", err)
	}
	if !ok {
		t.Fatalf("active enrollment must grant access")
	}
}

func TestHasAccessExpired(t *testing.T) {
	expired := time.Date(2026, 3, 10, 7, 59, 0, 0, time.UTC)
	svc := newTestService(&stubStore{active: pgrepo.EnrollmentRecord{ID: 61, ExpiresAt: &expired}}, &stubCourseStore{})

	ok, err := svc.HasAccess(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("HasAccess returned error: %v", err)
	}
	if ok {
		t.Fatalf("expired enrollment must not grant access")
	}
}

func TestHasAccessNone(t *testing.T) {
	svc := newTestService(&stubStore{activeErr: pgrepo.ErrEnrollmentNotFound}, &stubCourseStore{})

	ok, err := svc.HasAccess(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("HasAccess returned error: %v", err)
	}
	if ok {
		t.Fatalf("missing enrollment must not grant access")
	}
}

func TestListMineFiltersExpired(t *testing.T) {
	expired := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	live := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(&stubStore{list: []pgrepo.EnrollmentRecord{
		{ID: 1, CourseID: 3, ExpiresAt: &expired},
		{ID: 2, CourseID: 4, ExpiresAt: &live},
		{ID: 3, CourseID: 5},
	}}, &stubCourseStore{})

	records, err := svc.ListMine(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListMine returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 live enrollments, got %d", len(records))
	}
	for _, record := range records {
		if record.ID == 1 {
			t.Fatalf("expired enrollment must be filtered out")
		}
	}
}
