package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
)

type studentRepository interface {
	FindByPRN(ctx context.Context, prn string) (*models.Student, error)
	FindByClassRoll(ctx context.Context, classRoll string) (*models.Student, error)
	SearchByName(ctx context.Context, fragment string) ([]models.Student, error)
	ListByBranch(ctx context.Context, branch string) ([]models.Student, error)
	ListAll(ctx context.Context) ([]models.Student, error)
	CountByDivision(ctx context.Context, branch string) (map[string]int, error)
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, prn string) error
}

// Fields accepted by ParseStudentUpdate.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldEmail     = "email"
	FieldExtra     = "extra"
	FieldBranch    = "branch"
)

// StudentUpdate lists the editable fields. Nil fields are left untouched.
type StudentUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Extra     models.Extra
	Branch    *string
}

// Empty reports whether the update changes nothing.
func (u StudentUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Email == nil && u.Extra == nil && u.Branch == nil
}

// ParseStudentUpdate builds an update from raw key/value input. Keys outside the
// editable set are returned as ignored; blank values are skipped.
func ParseStudentUpdate(raw map[string]string) (StudentUpdate, []string, error) {
	var (
		upd     StudentUpdate
		ignored []string
	)
	for key, value := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		if strings.TrimSpace(value) == "" {
			continue
		}
		v := value
		switch key {
		case FieldFirstName:
			upd.FirstName = &v
		case FieldLastName:
			upd.LastName = &v
		case FieldEmail:
			upd.Email = &v
		case FieldBranch:
			upd.Branch = &v
		case FieldExtra:
			extra, err := models.ParseExtra(v)
			if err != nil {
				return StudentUpdate{}, nil, invalid(err.Error())
			}
			upd.Extra = extra
		default:
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)
	return upd, ignored, nil
}

// StudentService edits, transfers, deletes and reads students.
type StudentService struct {
	repo      studentRepository
	allocator *Allocator
	cache     *CacheService
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, allocator *Allocator, cache *CacheService, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, allocator: allocator, cache: cache, validator: validate, metrics: metrics, logger: logger}
}

// EditStudent applies upd as one record update. A change to a different branch
// re-runs placement for the new branch and, unless the same update overrides the
// e-mail, re-derives it. editorBranch scopes the edit to one branch when set.
func (s *StudentService) EditStudent(ctx context.Context, prn string, upd StudentUpdate, editorBranch *string) (*models.StudentProfile, error) {
	prn = strings.TrimSpace(prn)
	var (
		updated     *models.Student
		transferred bool
		oldRoll     string
	)
	err := s.allocator.Critical(ctx, func(ctx context.Context) error {
		student, err := s.load(ctx, prn)
		if err != nil {
			return err
		}
		if err := AuthorizeBranch(editorBranch, student.Branch); err != nil {
			return err
		}
		oldRoll = student.ClassRoll
		if upd.Empty() {
			updated = student
			return nil
		}

		if upd.FirstName != nil {
			if student.FirstName = strings.TrimSpace(*upd.FirstName); student.FirstName == "" {
				return invalid("first_name is required")
			}
		}
		if upd.LastName != nil {
			if student.LastName = strings.TrimSpace(*upd.LastName); student.LastName == "" {
				return invalid("last_name is required")
			}
		}
		if upd.Extra != nil {
			if err := upd.Extra.Validate(); err != nil {
				return invalid(err.Error())
			}
			student.Extra = upd.Extra.Clone()
		}
		if upd.Branch != nil {
			branch := NormalizeBranch(*upd.Branch)
			if branch == "" {
				return invalid("branch is required")
			}
			if branch != student.Branch {
				placement, err := s.allocator.Place(ctx, branch)
				if err != nil {
					return err
				}
				student.Branch = branch
				student.Division = placement.Division
				student.ClassRoll = placement.ClassRoll
				transferred = true
			}
		}
		switch {
		case upd.Email != nil:
			email := strings.ToLower(strings.TrimSpace(*upd.Email))
			if err := s.validator.Var(email, "required,email"); err != nil {
				return invalid("email must be a valid email address")
			}
			student.Email = email
		case transferred:
			email, err := s.allocator.DeriveEmail(student.FirstName, student.LastName, student.PRN, student.Branch)
			if err != nil {
				return err
			}
			student.Email = email
		}

		if err := s.repo.Update(ctx, student); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return duplicateAsConflict(err, "failed to update student")
		}
		updated = student
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = s.cache.Invalidate(ctx, profileKeys(updated.PRN, oldRoll, updated.ClassRoll)...)
	if transferred {
		s.metrics.RecordTransfer(updated.Branch)
		s.logger.Info("student transferred",
			zap.String("prn", updated.PRN),
			zap.String("branch", updated.Branch),
			zap.String("division", updated.Division),
			zap.String("class_roll", updated.ClassRoll),
		)
	} else {
		s.logger.Info("student updated", zap.String("prn", updated.PRN))
	}
	return updated.Profile(), nil
}

// DeleteStudent removes a student, freeing the division seat and class roll.
func (s *StudentService) DeleteStudent(ctx context.Context, prn string, editorBranch *string) error {
	prn = strings.TrimSpace(prn)
	var removed *models.Student
	err := s.allocator.Critical(ctx, func(ctx context.Context) error {
		student, err := s.load(ctx, prn)
		if err != nil {
			return err
		}
		if err := AuthorizeBranch(editorBranch, student.Branch); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, student.PRN); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return internal(err, "failed to delete student")
		}
		removed = student
		return nil
	})
	if err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, profileKeys(removed.PRN, removed.ClassRoll)...)
	s.metrics.RecordDeletion(removed.Branch)
	s.logger.Info("student deleted",
		zap.String("prn", removed.PRN),
		zap.String("branch", removed.Branch),
		zap.String("division", removed.Division),
		zap.String("class_roll", removed.ClassRoll),
	)
	return nil
}

// GetProfile looks a student up by PRN, then by class roll. Credentials are never
// part of the result. The key is upper-cased first so every spelling of a roll
// shares the cache entry that edits and deletions invalidate.
func (s *StudentService) GetProfile(ctx context.Context, prnOrClassRoll string) (*models.StudentProfile, error) {
	key := strings.ToUpper(strings.TrimSpace(prnOrClassRoll))
	if key == "" {
		return nil, invalid("prn or class roll is required")
	}
	cacheKey := profileCachePrefix + key
	var cached models.StudentProfile
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	student, err := s.repo.FindByPRN(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		student, err = s.repo.FindByClassRoll(ctx, key)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internal(err, "failed to load student")
	}
	profile := student.Profile()
	_ = s.cache.Set(ctx, cacheKey, profile, 0)
	return profile, nil
}

// FindByClassRoll returns one student's profile, scoped to editorBranch when set.
func (s *StudentService) FindByClassRoll(ctx context.Context, classRoll string, editorBranch *string) (*models.StudentProfile, error) {
	classRoll = strings.ToUpper(strings.TrimSpace(classRoll))
	if classRoll == "" {
		return nil, invalid("class_roll is required")
	}
	student, err := s.repo.FindByClassRoll(ctx, classRoll)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internal(err, "failed to load student")
	}
	if err := AuthorizeBranch(editorBranch, student.Branch); err != nil {
		return nil, err
	}
	return student.Profile(), nil
}

// SearchByName matches a fragment of the first or last name.
func (s *StudentService) SearchByName(ctx context.Context, fragment string) ([]models.StudentProfile, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, invalid("search text is required")
	}
	students, err := s.repo.SearchByName(ctx, fragment)
	if err != nil {
		return nil, internal(err, "failed to search students")
	}
	return profiles(students), nil
}

// ListBranch lists a branch ordered by division and class roll.
func (s *StudentService) ListBranch(ctx context.Context, branch string, editorBranch *string) ([]models.StudentProfile, error) {
	branch = NormalizeBranch(branch)
	if branch == "" {
		return nil, invalid("branch is required")
	}
	if err := AuthorizeBranch(editorBranch, branch); err != nil {
		return nil, err
	}
	students, err := s.repo.ListByBranch(ctx, branch)
	if err != nil {
		return nil, internal(err, "failed to list students")
	}
	return profiles(students), nil
}

// ListAll lists every student.
func (s *StudentService) ListAll(ctx context.Context) ([]models.StudentProfile, error) {
	students, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, internal(err, "failed to list students")
	}
	return profiles(students), nil
}

// BranchStats reports per-division occupancy and remaining seats.
func (s *StudentService) BranchStats(ctx context.Context, branch string) (*models.BranchStats, error) {
	branch = NormalizeBranch(branch)
	if branch == "" {
		return nil, invalid("branch is required")
	}
	counts, err := s.repo.CountByDivision(ctx, branch)
	if err != nil {
		return nil, internal(err, "failed to read branch statistics")
	}
	stats := s.allocator.StatsFor(branch, counts)
	for _, d := range stats.Divisions {
		s.metrics.SetDivisionOccupancy(stats.Branch, d.Division, d.Count)
	}
	return stats, nil
}

func (s *StudentService) load(ctx context.Context, prn string) (*models.Student, error) {
	if prn == "" {
		return nil, invalid("prn is required")
	}
	student, err := s.repo.FindByPRN(ctx, prn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internal(err, "failed to load student")
	}
	return student, nil
}

func profiles(students []models.Student) []models.StudentProfile {
	out := make([]models.StudentProfile, 0, len(students))
	for i := range students {
		out = append(out, *students[i].Profile())
	}
	return out
}
