package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/recordkeeper/internal/models"
)

const (
	studentColumns = `prn, class_roll, username, salt, pw_hash, first_name, last_name, branch, division, email, extra, created_at, updated_at`
	studentValues  = `:prn, :class_roll, :username, :salt, :pw_hash, :first_name, :last_name, :branch, :division, :email, :extra, :created_at, :updated_at`
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create inserts a new student record. Uniqueness violations on prn, class_roll or
// username are reported as *DuplicateError.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	stampStudent(student)
	const query = `INSERT INTO students (` + studentColumns + `) VALUES (` + studentValues + `)`
	if _, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, student); err != nil {
		return fmt.Errorf("create student: %w", asDuplicate(err, "username", "class_roll", "prn"))
	}
	return nil
}

// CreateIfAbsent inserts a student unless any unique column is already taken, and
// reports whether a row was written. A clash does not raise an error, so an
// enclosing postgres transaction stays usable.
func (r *StudentRepository) CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error) {
	stampStudent(student)
	const query = `INSERT INTO students (` + studentColumns + `) VALUES (` + studentValues + `) ON CONFLICT DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, student)
	if err != nil {
		return false, fmt.Errorf("import student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func stampStudent(student *models.Student) {
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.Extra == nil {
		student.Extra = models.Extra{}
	}
}

// FindByPRN returns sql.ErrNoRows when the student does not exist.
func (r *StudentRepository) FindByPRN(ctx context.Context, prn string) (*models.Student, error) {
	return r.findOne(ctx, "prn", prn)
}

// FindByUsername returns sql.ErrNoRows when the student does not exist.
func (r *StudentRepository) FindByUsername(ctx context.Context, username string) (*models.Student, error) {
	return r.findOne(ctx, "username", username)
}

// FindByClassRoll returns sql.ErrNoRows when the student does not exist.
func (r *StudentRepository) FindByClassRoll(ctx context.Context, classRoll string) (*models.Student, error) {
	return r.findOne(ctx, "class_roll", classRoll)
}

func (r *StudentRepository) findOne(ctx context.Context, column, value string) (*models.Student, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(fmt.Sprintf("SELECT %s FROM students WHERE %s = ? LIMIT 1", studentColumns, column))
	var student models.Student
	if err := sqlx.GetContext(ctx, q, &student, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find student by %s: %w", column, err)
	}
	return &student, nil
}

// SearchByName matches a case-insensitive fragment against first or last name.
func (r *StudentRepository) SearchByName(ctx context.Context, fragment string) ([]models.Student, error) {
	q := conn(ctx, r.db)
	like := "%" + strings.ToLower(fragment) + "%"
	query := q.Rebind(`SELECT ` + studentColumns + ` FROM students
        WHERE LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? ORDER BY prn`)
	students := []models.Student{}
	if err := sqlx.SelectContext(ctx, q, &students, query, like, like); err != nil {
		return nil, fmt.Errorf("search students: %w", err)
	}
	return students, nil
}

// ListByBranch returns a branch's students ordered by division then class roll.
func (r *StudentRepository) ListByBranch(ctx context.Context, branch string) ([]models.Student, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE branch = ? ORDER BY division, class_roll`)
	students := []models.Student{}
	if err := sqlx.SelectContext(ctx, q, &students, query, branch); err != nil {
		return nil, fmt.Errorf("list branch students: %w", err)
	}
	return students, nil
}

// ListAll returns every student ordered by branch, division and class roll.
func (r *StudentRepository) ListAll(ctx context.Context) ([]models.Student, error) {
	q := conn(ctx, r.db)
	students := []models.Student{}
	if err := sqlx.SelectContext(ctx, q, &students, `SELECT `+studentColumns+` FROM students ORDER BY branch, division, class_roll`); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// Branches lists every branch that has at least one student.
func (r *StudentRepository) Branches(ctx context.Context) ([]string, error) {
	q := conn(ctx, r.db)
	branches := []string{}
	if err := sqlx.SelectContext(ctx, q, &branches, `SELECT DISTINCT branch FROM students ORDER BY branch`); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

// CountByDivision aggregates live occupancy per division for a branch. Divisions
// without students are absent from the map.
func (r *StudentRepository) CountByDivision(ctx context.Context, branch string) (map[string]int, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT division, COUNT(*) AS c FROM students WHERE branch = ? GROUP BY division`)
	var rows []models.DivisionCount
	if err := sqlx.SelectContext(ctx, q, &rows, query, branch); err != nil {
		return nil, fmt.Errorf("count branch divisions: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Division] = row.Count
	}
	return counts, nil
}

// ClassRollsWithPrefix lists class rolls starting with prefix (branch code + division).
func (r *StudentRepository) ClassRollsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT class_roll FROM students WHERE substr(class_roll, 1, ?) = ?`)
	rolls := []string{}
	if err := sqlx.SelectContext(ctx, q, &rolls, query, utf8.RuneCountInString(prefix), prefix); err != nil {
		return nil, fmt.Errorf("list class rolls: %w", err)
	}
	return rolls, nil
}

// Update overwrites the mutable profile and placement fields of a student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	if student.Extra == nil {
		student.Extra = models.Extra{}
	}
	const query = `UPDATE students SET first_name = :first_name, last_name = :last_name, branch = :branch, division = :division,
        class_roll = :class_roll, email = :email, extra = :extra, updated_at = :updated_at WHERE prn = :prn`
	res, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", asDuplicate(err, "class_roll"))
	}
	return requireAffected(res)
}

// UpdateCredentials replaces the salt and password hash of a student.
func (r *StudentRepository) UpdateCredentials(ctx context.Context, prn, salt, hash string) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`UPDATE students SET salt = ?, pw_hash = ?, updated_at = ? WHERE prn = ?`)
	res, err := q.ExecContext(ctx, query, salt, hash, time.Now().UTC(), prn)
	if err != nil {
		return fmt.Errorf("update student credentials: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a student. It returns sql.ErrNoRows when nothing was deleted.
func (r *StudentRepository) Delete(ctx context.Context, prn string) error {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM students WHERE prn = ?`), prn)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return requireAffected(res)
}

// Count returns the number of stored students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, `SELECT COUNT(*) FROM students`); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return total, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
