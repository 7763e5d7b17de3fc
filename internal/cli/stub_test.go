package cli

import (
	"context"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/internal/service"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
)

type stubServices struct {
	registerErr error
	registered  []service.RegisterStudentRequest
	profiles    map[string]*models.StudentProfile
	teacher     *models.TeacherProfile
	stats       *models.BranchStats
	deleted     []string
	edits       []service.StudentUpdate
	exported    []string
	logins      []service.LoginRequest
	changes     []service.ChangePasswordRequest
}

func newStub() *stubServices {
	return &stubServices{profiles: map[string]*models.StudentProfile{}}
}

func (s *stubServices) services() Services {
	return Services{Enrollment: s, Students: s, Auth: s, Export: s, Import: s}
}

func (s *stubServices) RegisterStudent(ctx context.Context, req service.RegisterStudentRequest) (*models.StudentProfile, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	s.registered = append(s.registered, req)
	return &models.StudentProfile{
		PRN:       "1001",
		ClassRoll: "CS101",
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Branch:    service.NormalizeBranch(req.Branch),
		Division:  "1",
		Email:     "ann.lee.1001@cse.college.edu",
	}, nil
}

func (s *stubServices) EditStudent(ctx context.Context, prn string, upd service.StudentUpdate, editorBranch *string) (*models.StudentProfile, error) {
	p, err := s.GetProfile(ctx, prn)
	if err != nil {
		return nil, err
	}
	if err := service.AuthorizeBranch(editorBranch, p.Branch); err != nil {
		return nil, err
	}
	s.edits = append(s.edits, upd)
	return p, nil
}

func (s *stubServices) DeleteStudent(ctx context.Context, prn string, editorBranch *string) error {
	p, err := s.GetProfile(ctx, prn)
	if err != nil {
		return err
	}
	if err := service.AuthorizeBranch(editorBranch, p.Branch); err != nil {
		return err
	}
	s.deleted = append(s.deleted, prn)
	return nil
}

func (s *stubServices) GetProfile(ctx context.Context, key string) (*models.StudentProfile, error) {
	if p, ok := s.profiles[key]; ok {
		return p, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
}

func (s *stubServices) FindByClassRoll(ctx context.Context, roll string, editorBranch *string) (*models.StudentProfile, error) {
	return s.GetProfile(ctx, roll)
}

func (s *stubServices) SearchByName(ctx context.Context, fragment string) ([]models.StudentProfile, error) {
	return s.all(), nil
}

func (s *stubServices) ListBranch(ctx context.Context, branch string, editorBranch *string) ([]models.StudentProfile, error) {
	out := []models.StudentProfile{}
	for _, p := range s.all() {
		if p.Branch == branch {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubServices) ListAll(ctx context.Context) ([]models.StudentProfile, error) {
	return s.all(), nil
}

func (s *stubServices) BranchStats(ctx context.Context, branch string) (*models.BranchStats, error) {
	if s.stats == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "branch is required")
	}
	return s.stats, nil
}

func (s *stubServices) RegisterTeacher(ctx context.Context, req service.RegisterTeacherRequest) (*models.TeacherProfile, error) {
	return &models.TeacherProfile{Username: req.Username, Name: req.Name, Branch: service.NormalizeBranch(req.Branch)}, nil
}

func (s *stubServices) LoginTeacher(ctx context.Context, req service.LoginRequest) (*models.TeacherProfile, error) {
	s.logins = append(s.logins, req)
	if s.teacher == nil || req.Username != s.teacher.Username {
		return nil, appErrors.ErrInvalidCredentials
	}
	return s.teacher, nil
}

func (s *stubServices) LoginStudent(ctx context.Context, req service.LoginRequest) (*models.StudentProfile, error) {
	s.logins = append(s.logins, req)
	for _, p := range s.profiles {
		if p.Username == req.Username {
			return p, nil
		}
	}
	return nil, appErrors.ErrInvalidCredentials
}

func (s *stubServices) ChangeStudentPassword(ctx context.Context, req service.ChangePasswordRequest) error {
	s.changes = append(s.changes, req)
	if req.OldPassword != "old" {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "old password is incorrect")
	}
	return nil
}

func (s *stubServices) ExportBranch(ctx context.Context, branch, format string, editorBranch *string) (string, error) {
	s.exported = append(s.exported, branch+":"+format)
	return "/tmp/" + branch + "_students." + format, nil
}

func (s *stubServices) ExportAll(ctx context.Context, format string) ([]service.BranchExport, error) {
	return []service.BranchExport{{Branch: "CSE", Path: "/tmp/CSE_students." + format}}, nil
}

func (s *stubServices) Import(ctx context.Context) (*service.ImportResult, error) {
	return &service.ImportResult{Students: 2, Teachers: 1, Ran: true}, nil
}

func (s *stubServices) add(p *models.StudentProfile) {
	s.profiles[p.PRN] = p
	s.profiles[p.ClassRoll] = p
}

func (s *stubServices) all() []models.StudentProfile {
	seen := map[string]bool{}
	out := []models.StudentProfile{}
	for _, key := range []string{"1001", "1002", "1003"} {
		if p, ok := s.profiles[key]; ok && !seen[p.PRN] {
			seen[p.PRN] = true
			out = append(out, *p)
		}
	}
	return out
}
