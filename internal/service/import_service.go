package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
)

// Legacy data file names.
const (
	LegacyStudentsFile = "students.json"
	LegacyTeachersFile = "teachers.json"
	LegacyMetaFile     = "meta.json"
)

type importStudentStore interface {
	Count(ctx context.Context) (int, error)
	CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error)
}

type importTeacherStore interface {
	CreateIfAbsent(ctx context.Context, teacher *models.Teacher) (bool, error)
}

type importCounter interface {
	EnsureAtLeast(ctx context.Context, value int64) error
}

type legacyStudent struct {
	PRN          flexString   `json:"prn"`
	ClassRoll    string       `json:"class_roll"`
	Username     string       `json:"username"`
	Salt         string       `json:"salt"`
	PasswordHash string       `json:"pw_hash"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Branch       string       `json:"branch"`
	Division     flexString   `json:"division"`
	Email        string       `json:"email"`
	Extra        models.Extra `json:"extra"`
}

// flexString accepts a JSON string or number, as the legacy files used both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*f = flexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(num.String())
	return nil
}

type legacyTeacher struct {
	Username     string `json:"username"`
	Salt         string `json:"salt"`
	PasswordHash string `json:"pw_hash"`
	Name         string `json:"name"`
	Branch       string `json:"branch"`
}

type legacyMeta struct {
	NextPRN flexString `json:"next_prn"`
}

// ImportResult counts what a legacy import did.
type ImportResult struct {
	Students int   `json:"students"`
	Teachers int   `json:"teachers"`
	Skipped  int   `json:"skipped"`
	NextPRN  int64 `json:"next_prn,omitempty"`
	Ran      bool  `json:"ran"`
}

// ImportService loads the JSON files written by the pre-database tool.
type ImportService struct {
	students importStudentStore
	teachers importTeacherStore
	counter  importCounter
	tx       transactor
	dir      string
	logger   *zap.Logger
}

// NewImportService constructs an ImportService reading from dir.
func NewImportService(students importStudentStore, teachers importTeacherStore, counter importCounter, tx transactor, dir string, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{students: students, teachers: teachers, counter: counter, tx: tx, dir: dir, logger: logger}
}

// ImportIfEmpty runs Import only when no students are stored yet.
func (s *ImportService) ImportIfEmpty(ctx context.Context) (*ImportResult, error) {
	total, err := s.students.Count(ctx)
	if err != nil {
		return nil, internal(err, "failed to count students")
	}
	if total > 0 {
		return &ImportResult{}, nil
	}
	return s.Import(ctx)
}

// Import copies legacy students and teachers, skipping duplicates, and raises the
// PRN counter to the legacy next_prn. Missing or unreadable files are skipped.
func (s *ImportService) Import(ctx context.Context) (*ImportResult, error) {
	result := &ImportResult{}
	var students []legacyStudent
	var teachers []legacyTeacher
	var meta legacyMeta
	foundStudents := s.readJSON(LegacyStudentsFile, &students)
	foundTeachers := s.readJSON(LegacyTeachersFile, &teachers)
	foundMeta := s.readJSON(LegacyMetaFile, &meta)
	if !foundStudents && !foundTeachers && !foundMeta {
		return result, nil
	}
	result.Ran = true

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var maxPRN int64
		for _, ls := range students {
			student := ls.toModel()
			created, err := s.students.CreateIfAbsent(ctx, student)
			if err != nil {
				return internal(err, "failed to import student "+student.PRN)
			}
			if !created {
				result.Skipped++
				continue
			}
			result.Students++
			if n, err := strconv.ParseInt(student.PRN, 10, 64); err == nil && n > maxPRN {
				maxPRN = n
			}
		}
		for _, lt := range teachers {
			teacher := lt.toModel()
			created, err := s.teachers.CreateIfAbsent(ctx, teacher)
			if err != nil {
				return internal(err, "failed to import teacher "+teacher.Username)
			}
			if !created {
				result.Skipped++
				continue
			}
			result.Teachers++
		}

		next := maxPRN + 1
		if v, err := strconv.ParseInt(string(meta.NextPRN), 10, 64); err == nil && v > next {
			next = v
		}
		if maxPRN > 0 || meta.NextPRN != "" {
			if err := s.counter.EnsureAtLeast(ctx, next); err != nil {
				return internal(err, "failed to raise prn counter")
			}
			result.NextPRN = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("legacy data imported",
		zap.Int("students", result.Students),
		zap.Int("teachers", result.Teachers),
		zap.Int("skipped", result.Skipped),
		zap.Int64("next_prn", result.NextPRN),
	)
	return result, nil
}

// readJSON decodes a legacy file and reports whether it was usable.
func (s *ImportService) readJSON(name string, dest interface{}) bool {
	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("legacy file unreadable", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		s.logger.Warn("legacy file malformed", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (ls legacyStudent) toModel() *models.Student {
	extra := ls.Extra
	if extra == nil {
		extra = models.Extra{}
	}
	return &models.Student{
		PRN:          string(ls.PRN),
		ClassRoll:    strings.ToUpper(strings.TrimSpace(ls.ClassRoll)),
		Username:     strings.ToLower(strings.TrimSpace(ls.Username)),
		Salt:         ls.Salt,
		PasswordHash: ls.PasswordHash,
		FirstName:    strings.TrimSpace(ls.FirstName),
		LastName:     strings.TrimSpace(ls.LastName),
		Branch:       NormalizeBranch(ls.Branch),
		Division:     string(ls.Division),
		Email:        ls.Email,
		Extra:        extra,
	}
}

func (lt legacyTeacher) toModel() *models.Teacher {
	return &models.Teacher{
		Username:     strings.ToLower(strings.TrimSpace(lt.Username)),
		Salt:         lt.Salt,
		PasswordHash: lt.PasswordHash,
		Name:         strings.TrimSpace(lt.Name),
		Branch:       NormalizeBranch(lt.Branch),
	}
}

func (r ImportResult) String() string {
	return fmt.Sprintf("imported %d students and %d teachers (%d skipped)", r.Students, r.Teachers, r.Skipped)
}
