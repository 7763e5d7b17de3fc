package cli

import (
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/internal/service"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
	"github.com/noah-isme/recordkeeper/pkg/response"
)

// Runtime carries wired services into command actions. It is filled in by the
// application's Before hook, after flags are parsed.
type Runtime struct {
	Services Services
	In       io.Reader
	Out      io.Writer
	Logger   *zap.Logger
}

// MenuAction runs the interactive menu.
func MenuAction(rt *Runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		return NewMenu(rt.Services, rt.In, rt.Out, rt.Logger).Run(c.Context)
	}
}

// Commands returns the non-interactive subcommands plus "menu".
func Commands(rt *Runtime) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "menu",
			Usage:  "interactive menu (default)",
			Action: MenuAction(rt),
		},
		{
			Name:  "register-student",
			Usage: "register a student and print the assigned identity",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Required: true},
				&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"STUDENT_PASSWORD"}},
				&cli.StringFlag{Name: "first-name", Required: true},
				&cli.StringFlag{Name: "last-name", Required: true},
				&cli.StringFlag{Name: "branch", Required: true},
				&cli.StringFlag{Name: "extra", Usage: "JSON object of extra attributes"},
			},
			Action: func(c *cli.Context) error {
				extra, err := models.ParseExtra(c.String("extra"))
				if err != nil {
					return rt.fail(appErrors.Clone(appErrors.ErrValidation, err.Error()))
				}
				profile, err := rt.Services.Enrollment.RegisterStudent(c.Context, service.RegisterStudentRequest{
					Username:  c.String("username"),
					Password:  c.String("password"),
					FirstName: c.String("first-name"),
					LastName:  c.String("last-name"),
					Branch:    c.String("branch"),
					Extra:     extra,
				})
				if err != nil {
					return rt.fail(err)
				}
				return response.JSON(rt.Out, profile)
			},
		},
		{
			Name:  "register-teacher",
			Usage: "register a teacher scoped to a branch",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Required: true},
				&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"TEACHER_PASSWORD"}},
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "branch", Required: true},
			},
			Action: func(c *cli.Context) error {
				teacher, err := rt.Services.Auth.RegisterTeacher(c.Context, service.RegisterTeacherRequest{
					Username: c.String("username"),
					Password: c.String("password"),
					Name:     c.String("name"),
					Branch:   c.String("branch"),
				})
				if err != nil {
					return rt.fail(err)
				}
				return response.JSON(rt.Out, teacher)
			},
		},
		{
			Name:      "stats",
			Usage:     "per-division occupancy of a branch",
			ArgsUsage: "BRANCH",
			Action: func(c *cli.Context) error {
				stats, err := rt.Services.Students.BranchStats(c.Context, c.Args().First())
				if err != nil {
					return rt.fail(err)
				}
				writeStats(rt.Out, stats)
				return nil
			},
		},
		{
			Name:      "export",
			Usage:     "write a branch roster to CSV or PDF",
			ArgsUsage: "BRANCH",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: service.FormatCSV, Usage: "csv or pdf"},
				&cli.BoolFlag{Name: "all", Usage: "export every branch that has students"},
			},
			Action: func(c *cli.Context) error {
				if c.Bool("all") {
					results, err := rt.Services.Export.ExportAll(c.Context, c.String("format"))
					if err != nil {
						return rt.fail(err)
					}
					return response.JSON(rt.Out, results)
				}
				path, err := rt.Services.Export.ExportBranch(c.Context, c.Args().First(), c.String("format"), nil)
				if err != nil {
					return rt.fail(err)
				}
				_, err = io.WriteString(rt.Out, path+"\n")
				return err
			},
		},
		{
			Name:  "search",
			Usage: "find students by name fragment, PRN or class roll",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name"},
				&cli.StringFlag{Name: "prn"},
				&cli.StringFlag{Name: "class-roll"},
			},
			Action: func(c *cli.Context) error {
				switch {
				case c.String("name") != "":
					found, err := rt.Services.Students.SearchByName(c.Context, c.String("name"))
					if err != nil {
						return rt.fail(err)
					}
					return writeStudents(rt.Out, found, false)
				case c.String("prn") != "" || c.String("class-roll") != "":
					key := c.String("prn")
					if key == "" {
						key = c.String("class-roll")
					}
					profile, err := rt.Services.Students.GetProfile(c.Context, key)
					if err != nil {
						return rt.fail(err)
					}
					return response.JSON(rt.Out, profile)
				default:
					return rt.fail(appErrors.Clone(appErrors.ErrValidation, "one of --name, --prn or --class-roll is required"))
				}
			},
		},
		{
			Name:  "list",
			Usage: "list all students, or one branch",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "branch"},
			},
			Action: func(c *cli.Context) error {
				var (
					students []models.StudentProfile
					err      error
				)
				if branch := c.String("branch"); branch != "" {
					students, err = rt.Services.Students.ListBranch(c.Context, branch, nil)
				} else {
					students, err = rt.Services.Students.ListAll(c.Context)
				}
				if err != nil {
					return rt.fail(err)
				}
				return writeStudents(rt.Out, students, true)
			},
		},
		{
			Name:  "import-legacy",
			Usage: "copy students.json, teachers.json and meta.json into the store",
			Action: func(c *cli.Context) error {
				result, err := rt.Services.Import.Import(c.Context)
				if err != nil {
					return rt.fail(err)
				}
				if !result.Ran {
					_, err = io.WriteString(rt.Out, "No legacy files found.\n")
					return err
				}
				_, err = io.WriteString(rt.Out, result.String()+"\n")
				return err
			},
		},
	}
}

// fail prints the user-facing message and converts err into an exit status.
func (rt *Runtime) fail(err error) error {
	code := response.Error(rt.Out, err)
	if code == 1 && rt.Logger != nil {
		rt.Logger.Error("command failed", zap.Error(err))
	}
	return cli.Exit("", code)
}
