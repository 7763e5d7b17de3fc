package cli

import (
	"fmt"
	"io"

	"github.com/noah-isme/recordkeeper/internal/models"
	"github.com/noah-isme/recordkeeper/pkg/response"
)

func writeStats(w io.Writer, stats *models.BranchStats) {
	fmt.Fprintf(w, "Branch: %s\n", stats.Branch)       //nolint:errcheck
	fmt.Fprintf(w, "Total students: %d\n", stats.Total) //nolint:errcheck
	fmt.Fprintln(w, "Per-division counts:")             //nolint:errcheck
	for _, d := range stats.Divisions {
		fmt.Fprintf(w, "  Division %s: %d students, remaining seats %d\n", d.Division, d.Count, d.Remaining) //nolint:errcheck
	}
}

// writeStudents prints one line per student; full adds division, email and username.
func writeStudents(w io.Writer, students []models.StudentProfile, full bool) error {
	rows := make([][]string, 0, len(students))
	for _, s := range students {
		if full {
			rows = append(rows, []string{s.PRN, s.ClassRoll, s.FullName(), s.Branch, "Div " + s.Division, s.Email, s.Username})
			continue
		}
		rows = append(rows, []string{s.PRN, s.ClassRoll, s.FullName(), s.Branch})
	}
	return response.Table(w, nil, rows)
}
