package response

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
)

// JSON writes data as indented JSON followed by a newline.
func JSON(w io.Writer, data interface{}) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// Error prints the user-facing message of err and returns the process exit code
// it maps to.
func Error(w io.Writer, err error) int {
	appErr := appErrors.FromError(err)
	if appErr == nil {
		return 0
	}
	fmt.Fprintf(w, "Error: %s\n", appErr.Message) //nolint:errcheck
	return appErr.ExitCode
}

// Table writes pipe separated rows with aligned columns.
func Table(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(tw, strings.Join(headers, "\t| ")) //nolint:errcheck
	}
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t| ")) //nolint:errcheck
	}
	return tw.Flush()
}
