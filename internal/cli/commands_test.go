package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/noah-isme/recordkeeper/internal/models"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
)

func runCommand(t *testing.T, stub *stubServices, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rt := &Runtime{Services: stub.services(), In: strings.NewReader(""), Out: &out}
	app := &cli.App{
		Name:           "recordkeeper",
		Commands:       Commands(rt),
		Writer:         &out,
		ErrWriter:      &out,
		ExitErrHandler: func(*cli.Context, error) {},
	}
	err := app.Run(append([]string{"recordkeeper"}, args...))
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var coder cli.ExitCoder
	require.True(t, errors.As(err, &coder), "expected exit coder, got %v", err)
	return coder.ExitCode()
}

func TestCommandRegisterStudent(t *testing.T) {
	stub := newStub()
	out, err := runCommand(t, stub, "register-student",
		"--username", "ann", "--password", "pw", "--first-name", "Ann", "--last-name", "Lee", "--branch", "cse", "--extra", `{"hostel":true}`)
	require.NoError(t, err)
	require.Len(t, stub.registered, 1)
	assert.Equal(t, models.Extra{"hostel": true}, stub.registered[0].Extra)
	assert.Contains(t, out, `"prn": "1001"`)
	assert.Contains(t, out, `"branch": "CSE"`)
}

func TestCommandRegisterStudentFailure(t *testing.T) {
	stub := newStub()
	stub.registerErr = appErrors.Clone(appErrors.ErrConflict, "username already exists")
	out, err := runCommand(t, stub, "register-student",
		"--username", "ann", "--password", "pw", "--first-name", "Ann", "--last-name", "Lee", "--branch", "CSE")
	assert.Equal(t, appErrors.ExitConflict, exitCode(t, err))
	assert.Contains(t, out, "Error: username already exists")

	_, err = runCommand(t, stub, "register-student",
		"--username", "ann", "--password", "pw", "--first-name", "Ann", "--last-name", "Lee", "--branch", "CSE", "--extra", "[1]")
	assert.Equal(t, appErrors.ExitValidation, exitCode(t, err))
}

func TestCommandStats(t *testing.T) {
	stub := newStub()
	stub.stats = &models.BranchStats{Branch: "CSE", Total: 1, Capacity: 70, Divisions: []models.DivisionStats{{Division: "1", Count: 1, Remaining: 69}}}
	out, err := runCommand(t, stub, "stats", "CSE")
	require.NoError(t, err)
	assert.Contains(t, out, "  Division 1: 1 students, remaining seats 69")
}

func TestCommandSearch(t *testing.T) {
	stub := newStub()
	stub.add(ann())

	out, err := runCommand(t, stub, "search", "--class-roll", "CS101")
	require.NoError(t, err)
	assert.Contains(t, out, `"prn": "1001"`)

	out, err = runCommand(t, stub, "search", "--prn", "9999")
	assert.Equal(t, appErrors.ExitNotFound, exitCode(t, err))
	assert.Contains(t, out, "Error: student not found")

	_, err = runCommand(t, stub, "search")
	assert.Equal(t, appErrors.ExitValidation, exitCode(t, err))
}

func TestCommandListAndExport(t *testing.T) {
	stub := newStub()
	stub.add(ann())

	out, err := runCommand(t, stub, "list", "--branch", "CSE")
	require.NoError(t, err)
	assert.Contains(t, out, "1001 | CS101 | Ann Lee | CSE | Div 1 | ann.lee.1001@cse.college.edu | ann")

	out, err = runCommand(t, stub, "export", "--format", "pdf", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/CSE_students.pdf\n", out)

	out, err = runCommand(t, stub, "export", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, `"path": "/tmp/CSE_students.csv"`)
}

func TestCommandImportLegacy(t *testing.T) {
	out, err := runCommand(t, newStub(), "import-legacy")
	require.NoError(t, err)
	assert.Equal(t, "imported 2 students and 1 teachers (0 skipped)\n", out)
}
