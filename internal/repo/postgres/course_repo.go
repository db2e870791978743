package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/model"
)

var ErrCourseNotFound = errors.New("course not found")

// CourseRepo reads the catalog fields the purchase lifecycle needs. The
// catalog itself is maintained elsewhere; this repo never writes.
type CourseRepo struct {
	pool *pgxpool.Pool
}

type CourseRecord struct {
	ID         int64
	Title      string
	Price      int64
	Published  bool
	AccessDays int
	CreatedAt  time.Time
}

// Model lifts the row into the domain type that owns the catalog rules.
func (r CourseRecord) Model() model.Course {
	return model.Course{
		ID:         r.ID,
		Title:      r.Title,
		Price:      r.Price,
		Published:  r.Published,
		AccessDays: r.AccessDays,
		CreatedAt:  r.CreatedAt,
	}
}

func NewCourseRepo(pool *pgxpool.Pool) *CourseRepo {
	return &CourseRepo{pool: pool}
}

func (r *CourseRepo) FindByID(ctx context.Context, courseID int64) (CourseRecord, error) {
	if r.pool == nil {
		return CourseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if courseID <= 0 {
		return CourseRecord{}, fmt.Errorf("invalid course id")
	}

	var record CourseRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, title, price, published, access_days, created_at
FROM courses
WHERE id = $1
LIMIT 1
`, courseID).Scan(
		&record.ID,
		&record.Title,
		&record.Price,
		&record.Published,
		&record.AccessDays,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseRecord{}, ErrCourseNotFound
		}
		return CourseRecord{}, fmt.Errorf("find course by id: %w", err)
	}

	return record, nil
}
