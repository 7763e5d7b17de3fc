package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
	"github.com/noah-isme/recordkeeper/pkg/export"
	"github.com/noah-isme/recordkeeper/pkg/jobs"
)

// Export formats understood by ExportBranch.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

const exportWorkers = 4

var exportHeaders = []string{"PRN", "Class Roll", "First Name", "Last Name", "Branch", "Division", "Email"}

type branchLister interface {
	ListByBranch(ctx context.Context, branch string) ([]models.Student, error)
	Branches(ctx context.Context) ([]string, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
}

type datasetRenderer interface {
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders a branch roster to CSV or PDF and stores the file.
type ExportService struct {
	students  branchLister
	storage   fileStorage
	renderers map[string]datasetRenderer
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the
// stock CSV and PDF exporters.
func NewExportService(students branchLister, storage fileStorage, metrics *MetricsService, logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		students:  students,
		storage:   storage,
		renderers: map[string]datasetRenderer{FormatCSV: csv, FormatPDF: pdf},
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ExportBranch writes <BRANCH>_students_<yyyymmdd_hhmmss>.<ext> and returns its
// absolute path. editorBranch scopes the export when set.
func (s *ExportService) ExportBranch(ctx context.Context, branch, format string, editorBranch *string) (string, error) {
	branch = NormalizeBranch(branch)
	if branch == "" {
		return "", invalid("branch is required")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	renderer, ok := s.renderers[format]
	if !ok {
		return "", invalid(fmt.Sprintf("unsupported export format %q (use csv or pdf)", format))
	}
	if err := AuthorizeBranch(editorBranch, branch); err != nil {
		return "", err
	}

	students, err := s.students.ListByBranch(ctx, branch)
	if err != nil {
		return "", internal(err, "failed to list students")
	}
	now := s.now()
	dataset := export.Dataset{
		Title:   fmt.Sprintf("%s students (generated %s)", branch, now.Format("2006-01-02 15:04")),
		Headers: exportHeaders,
		Rows:    make([][]string, 0, len(students)),
	}
	for _, st := range students {
		dataset.Rows = append(dataset.Rows, []string{st.PRN, st.ClassRoll, st.FirstName, st.LastName, st.Branch, st.Division, st.Email})
	}

	payload, err := renderer.Render(dataset)
	if err != nil {
		return "", internal(err, "failed to render export")
	}
	filename := fmt.Sprintf("%s_students_%s.%s", sanitizeFilename(branch), now.Format("20060102_150405"), renderer.Extension())
	path, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", internal(err, "failed to write export")
	}
	s.metrics.RecordExport(format)
	s.logger.Info("branch exported", zap.String("branch", branch), zap.String("format", format), zap.Int("rows", len(students)), zap.String("path", path))
	return path, nil
}

// BranchExport is the outcome of one branch in ExportAll.
type BranchExport struct {
	Branch string `json:"branch"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ExportAll exports every branch that has students, rendering branches in
// parallel. Per-branch failures are reported in the result rather than aborting
// the run.
func (s *ExportService) ExportAll(ctx context.Context, format string) ([]BranchExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if _, ok := s.renderers[format]; !ok {
		return nil, invalid(fmt.Sprintf("unsupported export format %q (use csv or pdf)", format))
	}
	branches, err := s.students.Branches(ctx)
	if err != nil {
		return nil, internal(err, "failed to list branches")
	}

	var mu sync.Mutex
	results := make(map[string]*BranchExport, len(branches))
	for _, b := range branches {
		results[b] = &BranchExport{Branch: b}
	}

	queue := jobs.NewQueue("export", func(ctx context.Context, job jobs.Job) error {
		branch := job.Payload.(string)
		path, err := s.ExportBranch(ctx, branch, format, nil)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			results[branch].Error = appErrors.FromError(err).Message
			return err
		}
		results[branch].Path = path
		results[branch].Error = ""
		return nil
	}, jobs.QueueConfig{Workers: exportWorkers, BufferSize: len(branches) + 1, MaxRetries: 1, RetryDelay: 50 * time.Millisecond, Logger: s.logger})
	queue.Start(ctx)
	defer queue.Stop()

	for _, b := range branches {
		if err := queue.Enqueue(jobs.Job{ID: b, Type: "export:" + format, Payload: b}); err != nil {
			return nil, internal(err, "failed to schedule export")
		}
	}
	if err := queue.Wait(); err != nil {
		return nil, internal(err, "export interrupted")
	}

	out := make([]BranchExport, 0, len(branches))
	for _, b := range branches {
		out = append(out, *results[b])
	}
	return out, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
