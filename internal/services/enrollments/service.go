package enrollments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("enrollment not found")
)

type Store interface {
	Grant(ctx context.Context, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (pgrepo.EnrollmentRecord, bool, error)
	Revoke(ctx context.Context, userID, courseID int64, revokedAt time.Time) (pgrepo.EnrollmentRecord, bool, error)
	FindActive(ctx context.Context, userID, courseID int64) (pgrepo.EnrollmentRecord, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]pgrepo.EnrollmentRecord, error)
}

type CourseStore interface {
	FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error)
}

// Service answers "does this user hold access to this course" and lets
// admins grant or pull access out of band. Purchases and refunds write
// enrollments through their own transactions; this service is the
// standalone surface.
type Service struct {
	store   Store
	courses CourseStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, courses CourseStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:   store,
		courses: courses,
		logger:  logger,
		now:     time.Now,
	}
}

// Grant creates an active enrollment outside the purchase flow, for
// manual comps and support cases. The expiry follows the course access
// window the same way a paid grant would.
func (s *Service) Grant(ctx context.Context, userID, courseID int64) (pgrepo.EnrollmentRecord, bool, error) {
	if s.store == nil || s.courses == nil {
		return pgrepo.EnrollmentRecord{}, false, fmt.Errorf("enrollment dependencies are not configured")
	}
	if userID <= 0 || courseID <= 0 {
		return pgrepo.EnrollmentRecord{}, false, ErrValidation
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return pgrepo.EnrollmentRecord{}, false, ErrNotFound
		}
		return pgrepo.EnrollmentRecord{}, false, err
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	if course.AccessDays > 0 {
		expiry := now.Add(time.Duration(course.AccessDays) * 24 * time.Hour)
		expiresAt = &expiry
	}

	record, created, err := s.store.Grant(ctx, userID, courseID, now, expiresAt)
	if err != nil {
		return pgrepo.EnrollmentRecord{}, false, err
	}

	if created {
		s.logger.Info("enrollment granted",
			zap.Int64("user_id", userID),
			zap.Int64("course_id", courseID),
		)
	}

	return record, created, nil
}

// Revoke soft-revokes the active enrollment. Revoking a pair with no
// active enrollment is not an error; the call reports changed=false.
func (s *Service) Revoke(ctx context.Context, userID, courseID int64) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("enrollment dependencies are not configured")
	}
	if userID <= 0 || courseID <= 0 {
		return false, ErrValidation
	}

	_, changed, err := s.store.Revoke(ctx, userID, courseID, s.now().UTC())
	if err != nil {
		return false, err
	}

	if changed {
		s.logger.Info("enrollment revoked",
			zap.Int64("user_id", userID),
			zap.Int64("course_id", courseID),
		)
	}

	return changed, nil
}

// HasAccess is the entitlement check other services lean on. It is
// clock-aware: a row that expired a second ago answers false even
// before anything cleans it up.
func (s *Service) HasAccess(ctx context.Context, userID, courseID int64) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("enrollment dependencies are not configured")
	}
	if userID <= 0 || courseID <= 0 {
		return false, ErrValidation
	}

	record, err := s.store.FindActive(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrEnrollmentNotFound) {
			return false, nil
		}
		return false, err
	}

	return record.Model().ActiveAt(s.now().UTC()), nil
}

// ListMine powers the user's "my courses" page. Expired rows are
// filtered here rather than in SQL so the cutoff uses the service
// clock.
func (s *Service) ListMine(ctx context.Context, userID int64) ([]pgrepo.EnrollmentRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("enrollment dependencies are not configured")
	}
	if userID <= 0 {
		return nil, ErrValidation
	}

	records, err := s.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	active := records[:0]
	for _, record := range records {
		if !record.Model().ActiveAt(now) {
			continue
		}
		active = append(active, record)
	}

	return active, nil
}
