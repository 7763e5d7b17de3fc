package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/internal/repository"
	"github.com/noah-isme/recordkeeper/pkg/password"
)

func init() {
	password.Cost = 4
}

// memoryStore is an in-memory stand-in for the student, teacher and counter
// repositories. memoryTx snapshots it so a failed callback is rolled back.
type memoryStore struct {
	mu       sync.Mutex
	students map[string]models.Student
	teachers map[string]models.Teacher
	nextPRN  int64
	failNext error
}

func newMemoryStore(start int64) *memoryStore {
	return &memoryStore{students: map[string]models.Student{}, teachers: map[string]models.Teacher{}, nextPRN: start}
}

func (m *memoryStore) Next(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.nextPRN
	m.nextPRN++
	return v, nil
}

func (m *memoryStore) EnsureAtLeast(ctx context.Context, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextPRN < value {
		m.nextPRN = value
	}
	return nil
}

func (m *memoryStore) Create(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if _, ok := m.students[student.PRN]; ok {
		return &repository.DuplicateError{Field: "prn", Err: errors.New("prn")}
	}
	for _, s := range m.students {
		if s.Username == student.Username {
			return &repository.DuplicateError{Field: "username", Err: errors.New("username")}
		}
		if s.ClassRoll == student.ClassRoll {
			return &repository.DuplicateError{Field: "class_roll", Err: errors.New("class_roll")}
		}
	}
	m.students[student.PRN] = *student
	return nil
}

func (m *memoryStore) CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error) {
	err := m.Create(ctx, student)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return false, nil
	}
	return err == nil, err
}

func (m *memoryStore) find(match func(models.Student) bool) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if match(s) {
			out := s
			out.Extra = s.Extra.Clone()
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) FindByPRN(ctx context.Context, prn string) (*models.Student, error) {
	return m.find(func(s models.Student) bool { return s.PRN == prn })
}

func (m *memoryStore) FindByUsername(ctx context.Context, username string) (*models.Student, error) {
	return m.find(func(s models.Student) bool { return s.Username == username })
}

func (m *memoryStore) FindByClassRoll(ctx context.Context, roll string) (*models.Student, error) {
	return m.find(func(s models.Student) bool { return s.ClassRoll == roll })
}

func (m *memoryStore) filter(match func(models.Student) bool) []models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Student{}
	for _, s := range m.students {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch != out[j].Branch {
			return out[i].Branch < out[j].Branch
		}
		if out[i].Division != out[j].Division {
			return out[i].Division < out[j].Division
		}
		return out[i].ClassRoll < out[j].ClassRoll
	})
	return out
}

func (m *memoryStore) SearchByName(ctx context.Context, fragment string) ([]models.Student, error) {
	f := strings.ToLower(fragment)
	return m.filter(func(s models.Student) bool {
		return strings.Contains(strings.ToLower(s.FirstName), f) || strings.Contains(strings.ToLower(s.LastName), f)
	}), nil
}

func (m *memoryStore) ListByBranch(ctx context.Context, branch string) ([]models.Student, error) {
	return m.filter(func(s models.Student) bool { return s.Branch == branch }), nil
}

func (m *memoryStore) ListAll(ctx context.Context) ([]models.Student, error) {
	return m.filter(func(models.Student) bool { return true }), nil
}

func (m *memoryStore) Branches(ctx context.Context) ([]string, error) {
	branches := []string{}
	for _, s := range m.filter(func(models.Student) bool { return true }) {
		if len(branches) == 0 || branches[len(branches)-1] != s.Branch {
			branches = append(branches, s.Branch)
		}
	}
	return branches, nil
}

func (m *memoryStore) CountByDivision(ctx context.Context, branch string) (map[string]int, error) {
	counts := map[string]int{}
	for _, s := range m.filter(func(s models.Student) bool { return s.Branch == branch }) {
		counts[s.Division]++
	}
	return counts, nil
}

func (m *memoryStore) ClassRollsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rolls := []string{}
	for _, s := range m.filter(func(s models.Student) bool { return strings.HasPrefix(s.ClassRoll, prefix) }) {
		rolls = append(rolls, s.ClassRoll)
	}
	return rolls, nil
}

func (m *memoryStore) Update(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.students[student.PRN]
	if !ok {
		return sql.ErrNoRows
	}
	for _, s := range m.students {
		if s.PRN != student.PRN && s.ClassRoll == student.ClassRoll {
			return &repository.DuplicateError{Field: "class_roll", Err: errors.New("class_roll")}
		}
	}
	student.Username, student.Salt, student.PasswordHash = current.Username, current.Salt, current.PasswordHash
	m.students[student.PRN] = *student
	return nil
}

func (m *memoryStore) UpdateCredentials(ctx context.Context, prn, salt, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[prn]
	if !ok {
		return sql.ErrNoRows
	}
	s.Salt, s.PasswordHash = salt, hash
	m.students[prn] = s
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, prn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[prn]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, prn)
	return nil
}

func (m *memoryStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.students), nil
}

// memoryTeachers implements the teacher repository on top of memoryStore.
type memoryTeachers struct{ *memoryStore }

func (t memoryTeachers) Create(ctx context.Context, teacher *models.Teacher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.teachers[teacher.Username]; ok {
		return &repository.DuplicateError{Field: "username", Err: errors.New("username")}
	}
	t.teachers[teacher.Username] = *teacher
	return nil
}

func (t memoryTeachers) CreateIfAbsent(ctx context.Context, teacher *models.Teacher) (bool, error) {
	err := t.Create(ctx, teacher)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return false, nil
	}
	return err == nil, err
}

func (t memoryTeachers) FindByUsername(ctx context.Context, username string) (*models.Teacher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	teacher, ok := t.teachers[username]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &teacher, nil
}

func (t memoryTeachers) UpdateCredentials(ctx context.Context, username, salt, hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	teacher, ok := t.teachers[username]
	if !ok {
		return sql.ErrNoRows
	}
	teacher.Salt, teacher.PasswordHash = salt, hash
	t.teachers[username] = teacher
	return nil
}

type memoryTx struct{ store *memoryStore }

func (tx memoryTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.store.mu.Lock()
	students := make(map[string]models.Student, len(tx.store.students))
	for k, v := range tx.store.students {
		students[k] = v
	}
	teachers := make(map[string]models.Teacher, len(tx.store.teachers))
	for k, v := range tx.store.teachers {
		teachers[k] = v
	}
	next := tx.store.nextPRN
	tx.store.mu.Unlock()

	if err := fn(ctx); err != nil {
		tx.store.mu.Lock()
		tx.store.students, tx.store.teachers, tx.store.nextPRN = students, teachers, next
		tx.store.mu.Unlock()
		return err
	}
	return nil
}

type fixture struct {
	store      *memoryStore
	allocator  *Allocator
	enrollment *EnrollmentService
	students   *StudentService
	auth       *AuthService
	metrics    *MetricsService
}

func newFixture(capacity int, divisions ...string) *fixture {
	if len(divisions) == 0 {
		divisions = []string{"1", "2", "3"}
	}
	store := newMemoryStore(1001)
	metrics := NewMetricsService()
	allocator := NewAllocator(AllocatorConfig{Capacity: capacity, Divisions: divisions, Domain: "college.edu"}, store, store, memoryTx{store: store})
	return &fixture{
		store:      store,
		allocator:  allocator,
		enrollment: NewEnrollmentService(store, allocator, nil, metrics, nil),
		students:   NewStudentService(store, allocator, nil, nil, metrics, nil),
		auth:       NewAuthService(store, memoryTeachers{store}, nil, nil, metrics, nil),
		metrics:    metrics,
	}
}

func (f *fixture) register(username, first, last, branch string) (*models.StudentProfile, error) {
	return f.enrollment.RegisterStudent(context.Background(), RegisterStudentRequest{
		Username:  username,
		Password:  "secret",
		FirstName: first,
		LastName:  last,
		Branch:    branch,
	})
}

func strPtr(s string) *string { return &s }
