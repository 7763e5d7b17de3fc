package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/recordkeeper/internal/models"
)

const insertTeacher = `INSERT INTO teachers (username, salt, pw_hash, name, branch, created_at)
        VALUES (:username, :salt, :pw_hash, :name, :branch, :created_at)`

// TeacherRepository manages persistence for teachers.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// Create inserts a teacher. A taken username yields *DuplicateError.
func (r *TeacherRepository) Create(ctx context.Context, teacher *models.Teacher) error {
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = time.Now().UTC()
	}
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), insertTeacher, teacher); err != nil {
		return fmt.Errorf("create teacher: %w", asDuplicate(err, "username"))
	}
	return nil
}

// CreateIfAbsent inserts a teacher unless the username is taken and reports
// whether a row was written.
func (r *TeacherRepository) CreateIfAbsent(ctx context.Context, teacher *models.Teacher) (bool, error) {
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = time.Now().UTC()
	}
	res, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), insertTeacher+` ON CONFLICT DO NOTHING`, teacher)
	if err != nil {
		return false, fmt.Errorf("import teacher: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// FindByUsername returns sql.ErrNoRows when the teacher does not exist.
func (r *TeacherRepository) FindByUsername(ctx context.Context, username string) (*models.Teacher, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT username, salt, pw_hash, name, branch, created_at FROM teachers WHERE username = ? LIMIT 1`)
	var teacher models.Teacher
	if err := sqlx.GetContext(ctx, q, &teacher, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return &teacher, nil
}

// UpdateCredentials replaces a teacher's salt and hash.
func (r *TeacherRepository) UpdateCredentials(ctx context.Context, username, salt, hash string) error {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE teachers SET salt = ?, pw_hash = ? WHERE username = ?`), salt, hash, username)
	if err != nil {
		return fmt.Errorf("update teacher credentials: %w", err)
	}
	return requireAffected(res)
}

// Count returns the number of stored teachers.
func (r *TeacherRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, `SELECT COUNT(*) FROM teachers`); err != nil {
		return 0, fmt.Errorf("count teachers: %w", err)
	}
	return total, nil
}
