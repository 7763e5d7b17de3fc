package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/internal/repository"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
	"github.com/noah-isme/recordkeeper/pkg/password"
)

// Roles reported by login metrics.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

type authStudentRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Student, error)
	UpdateCredentials(ctx context.Context, prn, salt, hash string) error
}

type authTeacherRepository interface {
	Create(ctx context.Context, teacher *models.Teacher) error
	FindByUsername(ctx context.Context, username string) (*models.Teacher, error)
	UpdateCredentials(ctx context.Context, username, salt, hash string) error
}

// RegisterTeacherRequest holds the raw teacher registration input.
type RegisterTeacherRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=100"`
	Branch   string `json:"branch" validate:"required,max=32"`
}

// LoginRequest carries credentials for either role.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest replaces a student's password after checking the old one.
type ChangePasswordRequest struct {
	Username    string `json:"username" validate:"required"`
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// AuthService registers teachers and authenticates both roles.
type AuthService struct {
	students  authStudentRepository
	teachers  authTeacherRepository
	cache     *CacheService
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(students authStudentRepository, teachers authTeacherRepository, cache *CacheService, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &AuthService{students: students, teachers: teachers, cache: cache, validator: validate, metrics: metrics, logger: logger}
}

// RegisterTeacher stores a teacher scoped to one branch.
func (s *AuthService) RegisterTeacher(ctx context.Context, req RegisterTeacherRequest) (*models.TeacherProfile, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Name = strings.TrimSpace(req.Name)
	req.Branch = NormalizeBranch(req.Branch)
	if strings.TrimSpace(req.Password) == "" {
		req.Password = ""
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid teacher registration")
	}

	cred, err := password.Hash(req.Password)
	if err != nil {
		return nil, internal(err, "failed to hash password")
	}
	teacher := &models.Teacher{
		Username:     req.Username,
		Salt:         cred.Salt,
		PasswordHash: cred.Hash,
		Name:         req.Name,
		Branch:       req.Branch,
	}
	if err := s.teachers.Create(ctx, teacher); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("teacher username %q is already taken", req.Username))
		}
		return nil, internal(err, "failed to store teacher")
	}
	s.logger.Info("teacher registered", zap.String("username", teacher.Username), zap.String("branch", teacher.Branch))
	return teacher.Profile(), nil
}

// LoginStudent checks a student's credentials. Unknown users and wrong passwords
// get the same error.
func (s *AuthService) LoginStudent(ctx context.Context, req LoginRequest) (*models.StudentProfile, error) {
	if err := s.validateLogin(&req); err != nil {
		return nil, err
	}
	student, err := s.students.FindByUsername(ctx, req.Username)
	if err != nil {
		s.metrics.RecordLogin(RoleStudent, false)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, internal(err, "failed to fetch student")
	}
	if !password.Verify(req.Password, student.Salt, student.PasswordHash) {
		s.metrics.RecordLogin(RoleStudent, false)
		s.logger.Info("student login failed", zap.String("username", req.Username))
		return nil, appErrors.ErrInvalidCredentials
	}
	s.metrics.RecordLogin(RoleStudent, true)
	if password.IsLegacy(student.PasswordHash) {
		s.upgrade(req.Password, "student", student.Username, func(salt, hash string) error {
			return s.students.UpdateCredentials(ctx, student.PRN, salt, hash)
		})
	}
	return student.Profile(), nil
}

// LoginTeacher checks a teacher's credentials.
func (s *AuthService) LoginTeacher(ctx context.Context, req LoginRequest) (*models.TeacherProfile, error) {
	if err := s.validateLogin(&req); err != nil {
		return nil, err
	}
	teacher, err := s.teachers.FindByUsername(ctx, req.Username)
	if err != nil {
		s.metrics.RecordLogin(RoleTeacher, false)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, internal(err, "failed to fetch teacher")
	}
	if !password.Verify(req.Password, teacher.Salt, teacher.PasswordHash) {
		s.metrics.RecordLogin(RoleTeacher, false)
		s.logger.Info("teacher login failed", zap.String("username", req.Username))
		return nil, appErrors.ErrInvalidCredentials
	}
	s.metrics.RecordLogin(RoleTeacher, true)
	if password.IsLegacy(teacher.PasswordHash) {
		s.upgrade(req.Password, "teacher", teacher.Username, func(salt, hash string) error {
			return s.teachers.UpdateCredentials(ctx, teacher.Username, salt, hash)
		})
	}
	return teacher.Profile(), nil
}

// ChangeStudentPassword verifies the old password and stores a freshly salted hash.
func (s *AuthService) ChangeStudentPassword(ctx context.Context, req ChangePasswordRequest) error {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid password change")
	}
	student, err := s.students.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return internal(err, "failed to fetch student")
	}
	if !password.Verify(req.OldPassword, student.Salt, student.PasswordHash) {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "old password is incorrect")
	}
	cred, err := password.Hash(req.NewPassword)
	if err != nil {
		return internal(err, "failed to hash password")
	}
	if err := s.students.UpdateCredentials(ctx, student.PRN, cred.Salt, cred.Hash); err != nil {
		return internal(err, "failed to update password")
	}
	_ = s.cache.Invalidate(ctx, profileKeys(student.PRN, student.ClassRoll)...)
	s.logger.Info("student password changed", zap.String("prn", student.PRN))
	return nil
}

// upgrade re-hashes a migrated credential after a successful login. A failure
// leaves the legacy digest in place, which still verifies.
func (s *AuthService) upgrade(plain, role, username string, store func(salt, hash string) error) {
	cred, err := password.Hash(plain)
	if err == nil {
		err = store(cred.Salt, cred.Hash)
	}
	if err != nil {
		s.logger.Warn("legacy credential upgrade failed", zap.String("role", role), zap.String("username", username), zap.Error(err))
		return
	}
	s.logger.Info("legacy credential upgraded", zap.String("role", role), zap.String("username", username))
}

func (s *AuthService) validateLogin(req *LoginRequest) error {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if err := s.validator.Struct(*req); err != nil {
		return validationError(err, "invalid login payload")
	}
	return nil
}
