package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
	"github.com/trezcool/mahudhurio/services/camera"
	"github.com/trezcool/mahudhurio/storage/journal"
)

func newCaptureCmd(app *cliApp) *cobra.Command {
	var (
		classID    int
		date       string
		public     bool
		submit     bool
		intervalMS int
		cameraDir  string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a face-attendance capture session in the foreground",
		Long: `Runs the capture loop against the configured camera until interrupted
(Ctrl-C), then prints the final tally and journals the session.`,
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
			if !public {
				cred := gw.Credential()
				if cred.IsZero() {
					return errors.New("not logged in; run `attendctl login` first")
				}
				if !cred.Role.Can(user.ActionCapture) {
					return errors.Errorf("role %q may not run attendance capture", cred.Role)
				}
			}

			if cameraDir != "" {
				app.conf.Camera.Source = "dir"
				app.conf.Camera.Dir = cameraDir
			}
			source, err := camera.New(app.conf)
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			sess := attendance.NewSession(classID, date, public)
			if intervalMS > 0 {
				sess.Interval = time.Duration(intervalMS) * time.Millisecond
			} else if app.conf.API.CaptureInterval > 0 {
				sess.Interval = app.conf.API.CaptureInterval
			}

			store := attendance.NewStore()
			sched := attendance.NewScheduler(source, func(ctx context.Context, frame attendance.Frame, cid int, d string) (attendance.Recognition, error) {
				return gw.Recognize(ctx, frame, cid, d, public)
			}, app.logger)

			out := cmd.OutOrStdout()
			onResult := func(rec attendance.Recognition) {
				if store.Record(rec) {
					fmt.Fprintf(out, "recognized %s (#%d)\n", rec.FullName, rec.StudentID)
				}
			}
			authDead := make(chan struct{}, 1)
			onError := func(gwErr *attendance.Error) {
				fmt.Fprintf(out, "cycle failed: %v\n", gwErr)
				if gwErr.Kind == attendance.KindUnauthenticated {
					select {
					case authDead <- struct{}{}:
					default:
					}
				}
			}

			if err = sched.Start(cmd.Context(), sess, onResult, onError); err != nil {
				return err
			}
			fmt.Fprintf(out, "capturing class %d on %s every %s; Ctrl-C to close\n", classID, date, sess.Interval)

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(interrupt)

			var loginAgain bool
			select {
			case <-interrupt:
			case <-authDead:
				loginAgain = true
			}

			sched.Stop()
			sched.Wait()

			entries := store.List()
			renderTally(out, entries)

			if err = journalSession(cmd.Context(), app.conf, sess, entries); err != nil {
				app.logger.Error(fmt.Sprintf("journaling session: %v", err), err)
			}

			if submit && len(entries) > 0 && !loginAgain {
				records := make([]attendance.StatusRecord, 0, len(entries))
				for _, entry := range entries {
					records = append(records, attendance.StatusRecord{StudentID: entry.StudentID, Status: attendance.StatusPresent})
				}
				if err = gw.SubmitAttendance(cmd.Context(), classID, date, records); err != nil {
					return errors.Wrap(err, "submitting attendance")
				}
				fmt.Fprintf(out, "submitted %d Present record(s)\n", len(records))
			}

			if loginAgain {
				return errors.New("session expired; run `attendctl login` and try again")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&classID, "class", 0, "class id")
	cmd.Flags().StringVar(&date, "date", "", "session date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&public, "public", false, "use the unauthenticated kiosk endpoint")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit Present records for recognized students on close")
	cmd.Flags().IntVar(&intervalMS, "interval", 0, "capture interval in milliseconds")
	cmd.Flags().StringVar(&cameraDir, "camera-dir", "", "replay frames from this directory instead of the configured camera")
	return cmd
}

func renderTally(out io.Writer, entries []attendance.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Student", "Name", "Recognized At"})
	for _, entry := range entries {
		t.AppendRow(table.Row{entry.StudentID, entry.FullName, entry.At.Format("15:04:05")})
	}
	t.AppendFooter(table.Row{"", "total", len(entries)})
	t.Render()
}

func journalSession(ctx context.Context, conf *core.Config, sess *attendance.Session, entries []attendance.Entry) error {
	jrnl, err := journal.Open(conf)
	if err != nil {
		return err
	}
	defer func() { _ = jrnl.Close() }()
	return jrnl.RecordSession(ctx, sess, entries)
}
