package main

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

func newRosterCmd(app *cliApp) *cobra.Command {
	var (
		classID int
		date    string
	)

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Show a class roster joined with persisted attendance status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if classID < 1 {
				return errors.New("--class is required")
			}
			if date == "" {
				date = time.Now().Format(core.SessionDateLayout)
			} else if _, err := time.Parse(core.SessionDateLayout, date); err != nil {
				return errors.New("--date must be YYYY-MM-DD")
			}

			gw := app.gateway()
			cred := gw.Credential()
			if cred.IsZero() {
				return errors.New("not logged in; run `attendctl login` first")
			}
			if !cred.Role.Can(user.ActionRosterView) {
				return errors.Errorf("role %q may not view rosters", cred.Role)
			}

			ctx := cmd.Context()
			roster, err := gw.ClassStudents(ctx, classID)
			if err != nil {
				return err
			}
			records, err := gw.SessionAttendance(ctx, classID, date)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Student", "Name", "Email", "Status"})
			var present int
			for _, row := range attendance.Combine(roster, records) {
				if row.Status == attendance.StatusPresent {
					present++
				}
				t.AppendRow(table.Row{row.StudentID, row.FullName, row.Email, row.Status})
			}
			t.AppendFooter(table.Row{"", "", "present", present})
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&classID, "class", 0, "class id")
	cmd.Flags().StringVar(&date, "date", "", "session date (YYYY-MM-DD, default today)")
	return cmd
}
