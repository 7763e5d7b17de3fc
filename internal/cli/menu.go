package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/internal/service"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
	"github.com/noah-isme/recordkeeper/pkg/response"
)

type enrollmentService interface {
	RegisterStudent(ctx context.Context, req service.RegisterStudentRequest) (*models.StudentProfile, error)
}

type studentService interface {
	EditStudent(ctx context.Context, prn string, upd service.StudentUpdate, editorBranch *string) (*models.StudentProfile, error)
	DeleteStudent(ctx context.Context, prn string, editorBranch *string) error
	GetProfile(ctx context.Context, prnOrClassRoll string) (*models.StudentProfile, error)
	FindByClassRoll(ctx context.Context, classRoll string, editorBranch *string) (*models.StudentProfile, error)
	SearchByName(ctx context.Context, fragment string) ([]models.StudentProfile, error)
	ListBranch(ctx context.Context, branch string, editorBranch *string) ([]models.StudentProfile, error)
	ListAll(ctx context.Context) ([]models.StudentProfile, error)
	BranchStats(ctx context.Context, branch string) (*models.BranchStats, error)
}

type authService interface {
	RegisterTeacher(ctx context.Context, req service.RegisterTeacherRequest) (*models.TeacherProfile, error)
	LoginTeacher(ctx context.Context, req service.LoginRequest) (*models.TeacherProfile, error)
	LoginStudent(ctx context.Context, req service.LoginRequest) (*models.StudentProfile, error)
	ChangeStudentPassword(ctx context.Context, req service.ChangePasswordRequest) error
}

type exportService interface {
	ExportBranch(ctx context.Context, branch, format string, editorBranch *string) (string, error)
	ExportAll(ctx context.Context, format string) ([]service.BranchExport, error)
}

type importService interface {
	Import(ctx context.Context) (*service.ImportResult, error)
}

// Services groups the operations the front end drives.
type Services struct {
	Enrollment enrollmentService
	Students   studentService
	Auth       authService
	Export     exportService
	Import     importService
}

// Menu is the interactive line-based front end.
type Menu struct {
	svc    Services
	in     *bufio.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewMenu constructs a Menu reading answers from in and writing to out.
func NewMenu(svc Services, in io.Reader, out io.Writer, logger *zap.Logger) *Menu {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Menu{svc: svc, in: bufio.NewReader(in), out: out, logger: logger}
}

// Run loops over the main menu until the user exits or input ends.
func (m *Menu) Run(ctx context.Context) error {
	for {
		m.say("",
			"~~~ Student DB Management ~~~",
			"1) Student Register",
			"2) Student Login",
			"3) Teacher Register",
			"4) Teacher Login",
			"5) Branch Statistics",
			"6) Export Branch (CSV/PDF)",
			"7) Search Student",
			"8) Admin: List all students",
			"0) Exit",
		)
		choice, err := m.ask("Choose: ")
		if err != nil {
			return endOfInput(err)
		}

		var flowErr error
		switch choice {
		case "1":
			flowErr = m.studentRegister(ctx)
		case "2":
			flowErr = m.studentLogin(ctx)
		case "3":
			flowErr = m.teacherRegister(ctx)
		case "4":
			flowErr = m.teacherLogin(ctx)
		case "5":
			flowErr = m.branchStats(ctx)
		case "6":
			flowErr = m.exportBranch(ctx)
		case "7":
			flowErr = m.search(ctx)
		case "8":
			flowErr = m.listAll(ctx)
		case "0":
			m.say("Goodbye.")
			return nil
		default:
			m.say("Invalid choice.")
		}
		if errors.Is(flowErr, io.EOF) {
			return nil
		}
		if flowErr != nil {
			m.fail(flowErr)
		}
	}
}

func (m *Menu) studentRegister(ctx context.Context) error {
	username, pw, err := m.askCredentials("Username: ")
	if err != nil {
		return err
	}
	answers, err := m.askAll("First name: ", "Last name: ", "Branch (e.g. CSE): ", "Extra JSON (optional): ")
	if err != nil {
		return err
	}
	extra, err := models.ParseExtra(answers[3])
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	profile, err := m.svc.Enrollment.RegisterStudent(ctx, service.RegisterStudentRequest{
		Username:  username,
		Password:  pw,
		FirstName: answers[0],
		LastName:  answers[1],
		Branch:    answers[2],
		Extra:     extra,
	})
	if err != nil {
		return err
	}
	m.say("Registered!",
		"PRN: "+profile.PRN,
		"Class Roll: "+profile.ClassRoll,
		"Email: "+profile.Email,
		"Division: "+profile.Division,
	)
	return nil
}

func (m *Menu) studentLogin(ctx context.Context) error {
	username, pw, err := m.askCredentials("Username: ")
	if err != nil {
		return err
	}
	student, err := m.svc.Auth.LoginStudent(ctx, service.LoginRequest{Username: username, Password: pw})
	if err != nil {
		return err
	}
	m.say(fmt.Sprintf("Welcome %s", student.FullName()))
	for {
		m.say("", "Student Menu:", "1) View profile", "2) Change password", "0) Logout")
		choice, err := m.ask("Choose: ")
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			profile, err := m.svc.Students.GetProfile(ctx, student.PRN)
			if err != nil {
				m.fail(err)
				continue
			}
			_ = response.JSON(m.out, profile)
		case "2":
			oldPW, err := m.askSecret("Old password: ")
			if err != nil {
				return err
			}
			newPW, err := m.askSecret("New password: ")
			if err != nil {
				return err
			}
			if err := m.svc.Auth.ChangeStudentPassword(ctx, service.ChangePasswordRequest{
				Username:    student.Username,
				OldPassword: oldPW,
				NewPassword: newPW,
			}); err != nil {
				m.fail(err)
				continue
			}
			m.say("Password changed.")
		case "0":
			return nil
		default:
			m.say("Invalid choice.")
		}
	}
}

func (m *Menu) teacherRegister(ctx context.Context) error {
	username, pw, err := m.askCredentials("Teacher username: ")
	if err != nil {
		return err
	}
	answers, err := m.askAll("Full name: ", "Branch (e.g. CSE): ")
	if err != nil {
		return err
	}
	teacher, err := m.svc.Auth.RegisterTeacher(ctx, service.RegisterTeacherRequest{
		Username: username,
		Password: pw,
		Name:     answers[0],
		Branch:   answers[1],
	})
	if err != nil {
		return err
	}
	m.say(fmt.Sprintf("Teacher registered: %s (%s, branch %s)", teacher.Username, teacher.Name, teacher.Branch))
	return nil
}

func (m *Menu) teacherLogin(ctx context.Context) error {
	username, pw, err := m.askCredentials("Teacher username: ")
	if err != nil {
		return err
	}
	teacher, err := m.svc.Auth.LoginTeacher(ctx, service.LoginRequest{Username: username, Password: pw})
	if err != nil {
		return err
	}
	scope := teacher.Branch
	m.say(fmt.Sprintf("Welcome %s (Branch %s)", teacher.Name, teacher.Branch))
	for {
		m.say("",
			"Teacher Menu:",
			"1) View students in your branch",
			"2) View student by PRN or class roll",
			"3) Edit student",
			"4) Delete student",
			"0) Logout",
		)
		choice, err := m.ask("Choose: ")
		if err != nil {
			return err
		}
		var flowErr error
		switch choice {
		case "1":
			flowErr = m.listBranch(ctx, scope)
		case "2":
			flowErr = m.viewScoped(ctx, scope)
		case "3":
			flowErr = m.editStudent(ctx, scope)
		case "4":
			flowErr = m.deleteStudent(ctx, scope)
		case "0":
			return nil
		default:
			m.say("Invalid option.")
		}
		if errors.Is(flowErr, io.EOF) {
			return flowErr
		}
		if flowErr != nil {
			m.fail(flowErr)
		}
	}
}

func (m *Menu) listBranch(ctx context.Context, scope string) error {
	students, err := m.svc.Students.ListBranch(ctx, scope, &scope)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		m.say("No students.")
		return nil
	}
	rows := make([][]string, 0, len(students))
	for _, s := range students {
		rows = append(rows, []string{s.PRN, s.ClassRoll, s.FullName(), "Div " + s.Division, s.Email})
	}
	return response.Table(m.out, nil, rows)
}

func (m *Menu) viewScoped(ctx context.Context, scope string) error {
	key, err := m.ask("Enter PRN or Class Roll: ")
	if err != nil {
		return err
	}
	profile, err := m.svc.Students.GetProfile(ctx, key)
	if err == nil {
		err = service.AuthorizeBranch(&scope, profile.Branch)
	}
	if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrForbidden) {
		m.say("Not found or not your branch.")
		return nil
	}
	if err != nil {
		return err
	}
	return response.JSON(m.out, profile)
}

func (m *Menu) editStudent(ctx context.Context, scope string) error {
	prn, err := m.ask("Enter PRN of student to edit: ")
	if err != nil {
		return err
	}
	m.say("Enter new values (leave blank to skip):")
	answers, err := m.askAll("First name: ", "Last name: ", "Email: ", "Change branch to (e.g. CSE) or blank: ", `Extra JSON (e.g. {"phone":"123"}): `)
	if err != nil {
		return err
	}
	raw := map[string]string{
		service.FieldFirstName: answers[0],
		service.FieldLastName:  answers[1],
		service.FieldEmail:     answers[2],
		service.FieldBranch:    answers[3],
		service.FieldExtra:     answers[4],
	}
	upd, _, err := service.ParseStudentUpdate(raw)
	if err != nil {
		m.say("Invalid JSON for extra; skipping.")
		delete(raw, service.FieldExtra)
		if upd, _, err = service.ParseStudentUpdate(raw); err != nil {
			return err
		}
	}
	profile, err := m.svc.Students.EditStudent(ctx, prn, upd, &scope)
	if err != nil {
		return err
	}
	m.say("Updated:")
	return response.JSON(m.out, profile)
}

func (m *Menu) deleteStudent(ctx context.Context, scope string) error {
	answers, err := m.askAll("Enter PRN to delete: ", "Type DELETE to confirm: ")
	if err != nil {
		return err
	}
	if answers[1] != "DELETE" {
		m.say("Cancelled.")
		return nil
	}
	if err := m.svc.Students.DeleteStudent(ctx, answers[0], &scope); err != nil {
		return err
	}
	m.say("Deleted.")
	return nil
}

func (m *Menu) branchStats(ctx context.Context) error {
	branch, err := m.ask("Enter branch (e.g. CSE): ")
	if err != nil {
		return err
	}
	stats, err := m.svc.Students.BranchStats(ctx, branch)
	if err != nil {
		return err
	}
	writeStats(m.out, stats)
	return nil
}

func (m *Menu) exportBranch(ctx context.Context) error {
	answers, err := m.askAll("Branch to export: ", "Format (csv/pdf): ")
	if err != nil {
		return err
	}
	path, err := m.svc.Export.ExportBranch(ctx, answers[0], answers[1], nil)
	if err != nil {
		return err
	}
	m.say(fmt.Sprintf("%s saved to %s", strings.ToUpper(strings.TrimSpace(answers[1])), path))
	return nil
}

func (m *Menu) search(ctx context.Context) error {
	m.say("1) Search by name", "2) Search by PRN", "3) Search by class roll")
	choice, err := m.ask("Choose: ")
	if err != nil {
		return err
	}
	switch choice {
	case "1":
		q, err := m.ask("Name fragment: ")
		if err != nil {
			return err
		}
		found, err := m.svc.Students.SearchByName(ctx, q)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			m.say("No matches.")
			return nil
		}
		return writeStudents(m.out, found, false)
	case "2", "3":
		label := "PRN: "
		if choice == "3" {
			label = "Class roll: "
		}
		q, err := m.ask(label)
		if err != nil {
			return err
		}
		profile, err := m.svc.Students.GetProfile(ctx, q)
		if errors.Is(err, appErrors.ErrNotFound) {
			m.say("Not found.")
			return nil
		}
		if err != nil {
			return err
		}
		return response.JSON(m.out, profile)
	default:
		m.say("Invalid choice.")
		return nil
	}
}

func (m *Menu) listAll(ctx context.Context) error {
	students, err := m.svc.Students.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		m.say("No students.")
		return nil
	}
	return writeStudents(m.out, students, true)
}

func (m *Menu) ask(prompt string) (string, error) {
	line, err := m.readLine(prompt)
	return strings.TrimSpace(line), err
}

// askSecret reads a password verbatim; only the line terminator is dropped.
func (m *Menu) askSecret(prompt string) (string, error) {
	line, err := m.readLine(prompt)
	return strings.TrimRight(line, "\r\n"), err
}

func (m *Menu) askCredentials(userPrompt string) (string, string, error) {
	username, err := m.ask(userPrompt)
	if err != nil {
		return "", "", err
	}
	pw, err := m.askSecret("Password: ")
	if err != nil {
		return "", "", err
	}
	return username, pw, nil
}

func (m *Menu) readLine(prompt string) (string, error) {
	fmt.Fprint(m.out, prompt) //nolint:errcheck
	line, err := m.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return line, nil
}

func (m *Menu) askAll(prompts ...string) ([]string, error) {
	answers := make([]string, 0, len(prompts))
	for _, p := range prompts {
		a, err := m.ask(p)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (m *Menu) say(lines ...string) {
	for _, l := range lines {
		fmt.Fprintln(m.out, l) //nolint:errcheck
	}
}

func (m *Menu) fail(err error) {
	if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrInternal.Code {
		m.logger.Error("operation failed", zap.Error(err))
	}
	response.Error(m.out, err)
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
