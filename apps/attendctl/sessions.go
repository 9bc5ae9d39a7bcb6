package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/trezcool/mahudhurio/storage/journal"
)

func newSessionsCmd(app *cliApp) *cobra.Command {
	var showEntries string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journaled capture sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			jrnl, err := journal.Open(app.conf)
			if err != nil {
				return err
			}
			defer func() { _ = jrnl.Close() }()

			out := cmd.OutOrStdout()

			if showEntries != "" {
				recs, err := jrnl.Recognitions(cmd.Context(), showEntries)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.AppendHeader(table.Row{"Student", "Name", "Recognized At"})
				for _, rec := range recs {
					t.AppendRow(table.Row{rec.StudentID, rec.FullName, rec.At.Format("15:04:05")})
				}
				t.Render()
				return nil
			}

			sessions, err := jrnl.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no journaled sessions")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.AppendHeader(table.Row{"Session", "Class", "Date", "Public", "Started", "Recognized"})
			for _, sess := range sessions {
				t.AppendRow(table.Row{
					sess.ID, sess.ClassID, sess.Date, sess.Public,
					sess.StartedAt.Local().Format("2006-01-02 15:04"), sess.Recognized,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&showEntries, "entries", "", "show the recognized students of this session id")
	return cmd
}
