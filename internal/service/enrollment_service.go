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

type enrollmentStudentStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
}

// RegisterStudentRequest holds the raw registration input.
type RegisterStudentRequest struct {
	Username  string       `json:"username" validate:"required,max=64"`
	Password  string       `json:"password" validate:"required"`
	FirstName string       `json:"first_name" validate:"required,max=100"`
	LastName  string       `json:"last_name" validate:"required,max=100"`
	Branch    string       `json:"branch" validate:"required,max=32"`
	Extra     models.Extra `json:"extra"`
}

func (r *RegisterStudentRequest) normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Branch = NormalizeBranch(r.Branch)
	if strings.TrimSpace(r.Password) == "" {
		r.Password = ""
	}
}

// EnrollmentService registers students and assigns their identity fields.
type EnrollmentService struct {
	students  enrollmentStudentStore
	allocator *Allocator
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(students enrollmentStudentStore, allocator *Allocator, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{students: students, allocator: allocator, validator: validate, metrics: metrics, logger: logger}
}

// RegisterStudent validates input, allocates PRN, division, class roll and e-mail,
// and stores the student. A failure at any step leaves no PRN, seat or roll consumed.
func (s *EnrollmentService) RegisterStudent(ctx context.Context, req RegisterStudentRequest) (*models.StudentProfile, error) {
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordRejection(RejectValidation)
		return nil, validationError(err, "invalid student registration")
	}
	if req.Extra == nil {
		req.Extra = models.Extra{}
	}
	if err := req.Extra.Validate(); err != nil {
		s.metrics.RecordRejection(RejectValidation)
		return nil, invalid(err.Error())
	}

	cred, err := password.Hash(req.Password)
	if err != nil {
		s.metrics.RecordRejection(RejectInternal)
		return nil, internal(err, "failed to hash password")
	}

	var student *models.Student
	err = s.allocator.Critical(ctx, func(ctx context.Context) error {
		existing, err := s.students.FindByUsername(ctx, req.Username)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return internal(err, "failed to check username")
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("username %q is already taken", req.Username))
		}

		prn, err := s.allocator.AllocatePRN(ctx)
		if err != nil {
			return err
		}
		placement, err := s.allocator.Place(ctx, req.Branch)
		if err != nil {
			return err
		}
		email, err := s.allocator.DeriveEmail(req.FirstName, req.LastName, prn, req.Branch)
		if err != nil {
			return err
		}

		candidate := &models.Student{
			PRN:          prn,
			ClassRoll:    placement.ClassRoll,
			Username:     req.Username,
			Salt:         cred.Salt,
			PasswordHash: cred.Hash,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Branch:       req.Branch,
			Division:     placement.Division,
			Email:        email,
			Extra:        req.Extra.Clone(),
		}
		if err := s.students.Create(ctx, candidate); err != nil {
			return duplicateAsConflict(err, "failed to store student")
		}
		student = candidate
		return nil
	})
	if err != nil {
		s.metrics.RecordRejection(rejectionReason(err))
		s.logger.Info("student registration rejected", zap.String("username", req.Username), zap.String("branch", req.Branch), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordRegistration(student.Branch)
	s.logger.Info("student registered",
		zap.String("prn", student.PRN),
		zap.String("branch", student.Branch),
		zap.String("division", student.Division),
		zap.String("class_roll", student.ClassRoll),
	)
	return student.Profile(), nil
}

// duplicateAsConflict maps store uniqueness violations onto ErrConflict.
func duplicateAsConflict(err error, message string) error {
	var dup *repository.DuplicateError
	if errors.As(err, &dup) {
		if dup.Field != "" {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.ExitCode, dup.Field+" already exists")
		}
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.ExitCode, "record already exists")
	}
	return internal(err, message)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrValidation):
		return RejectValidation
	case errors.Is(err, appErrors.ErrConflict):
		return RejectConflict
	case errors.Is(err, appErrors.ErrCapacityExceeded):
		return RejectCapacity
	default:
		return RejectInternal
	}
}
