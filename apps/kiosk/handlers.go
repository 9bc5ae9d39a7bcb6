package main

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

// Backend is the slice of the school platform the kiosk needs.
type Backend interface {
	attendance.Gateway
	Login(ctx context.Context, email, password string) (user.Credential, error)
	Credential() user.Credential
}

// captureRun is the active session with everything it owns: its store,
// its scheduler and its camera handle.
type captureRun struct {
	sess   *attendance.Session
	store  *attendance.Store
	sched  *attendance.Scheduler
	source attendance.FrameSource

	mu       sync.Mutex
	lastErr  string
	authDead bool
}

func (r *captureRun) noteError(err *attendance.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err.Kind.String()
	if err.Kind == attendance.KindUnauthenticated {
		r.authDead = true
	}
}

func (r *captureRun) status() (lastErr string, authDead bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr, r.authDead
}

type sessionAPI struct {
	deps ServerDeps

	mu      sync.Mutex
	current *captureRun
}

func registerSessionAPI(g *echo.Group, deps ServerDeps) *sessionAPI {
	api := &sessionAPI{deps: deps}

	g.POST("/login", api.login)

	sg := g.Group("/sessions")
	sg.POST("", api.sessionStart)
	sg.GET("/current", api.sessionRetrieve)
	sg.DELETE("/current", api.sessionClose)
	sg.POST("/current/submit", api.sessionSubmit)

	g.GET("/roster", api.rosterRetrieve)
	return api
}

// closeCurrent ends any active session; used on daemon shutdown.
func (api *sessionAPI) closeCurrent(ctx context.Context) {
	api.mu.Lock()
	run := api.current
	api.current = nil
	api.mu.Unlock()

	if run != nil {
		if _, err := api.closeRun(ctx, run); err != nil {
			api.deps.Logger.Error("closing session on shutdown", err)
		}
	}
}

// Handlers

func (api *sessionAPI) login(ctx echo.Context) error {
	data := new(loginRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	cred, err := api.deps.Gateway.Login(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, loginResponse{Role: cred.Role.String(), UserID: cred.UserID})
}

func (api *sessionAPI) sessionStart(ctx echo.Context) error {
	data := new(startSessionRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	// The backend enforces this too; checking here avoids opening the
	// camera just to collect 403s every tick.
	if !data.Public {
		cred := api.deps.Gateway.Credential()
		if cred.IsZero() {
			return attendance.NewError(attendance.KindUnauthenticated, errNoCredential)
		}
		if !cred.Role.Can(user.ActionCapture) {
			return errHttpForbidden
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()

	if api.current != nil {
		return errSessionAlreadyActive
	}

	source, err := api.deps.NewSource()
	if err != nil {
		return err
	}

	sess := attendance.NewSession(data.ClassID, data.Date, data.Public)
	if data.IntervalMS > 0 {
		sess.Interval = data.Interval()
	} else if api.deps.Conf.API.CaptureInterval > 0 {
		sess.Interval = api.deps.Conf.API.CaptureInterval
	}

	run := &captureRun{
		sess:   sess,
		store:  attendance.NewStore(),
		source: source,
	}
	run.sched = attendance.NewScheduler(source, func(c context.Context, frame attendance.Frame, classID int, date string) (attendance.Recognition, error) {
		return api.deps.Gateway.Recognize(c, frame, classID, date, sess.Public)
	}, api.deps.Logger)

	onResult := func(rec attendance.Recognition) {
		if run.store.Record(rec) {
			api.deps.Logger.Info(fmt.Sprintf("recognized %s (#%d)", rec.FullName, rec.StudentID))
		}
	}
	onError := func(gwErr *attendance.Error) {
		run.noteError(gwErr)
		api.deps.Logger.Warn(fmt.Sprintf("recognition cycle failed: %v", gwErr))
	}

	if err = run.sched.Start(context.Background(), sess, onResult, onError); err != nil {
		_ = source.Close()
		return err
	}

	api.current = run
	return ctx.JSON(http.StatusCreated, newSessionResponse(run))
}

func (api *sessionAPI) sessionRetrieve(ctx echo.Context) error {
	api.mu.Lock()
	run := api.current
	api.mu.Unlock()

	if run == nil {
		return errNoActiveSession
	}
	if _, authDead := run.status(); authDead {
		return attendance.NewError(attendance.KindUnauthenticated, errCredentialExpired)
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(run))
}

func (api *sessionAPI) sessionClose(ctx echo.Context) error {
	data := new(closeSessionRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}

	api.mu.Lock()
	run := api.current
	if run == nil {
		api.mu.Unlock()
		return errNoActiveSession
	}

	// Public kiosk sessions are closed with the kiosk PIN so passers-by
	// cannot end them.
	if run.sess.Public {
		if hash := api.deps.Conf.Kiosk.PinHash; hash != "" {
			if data.Pin == "" || user.CheckPin(hash, data.Pin) != nil {
				api.mu.Unlock()
				return errPinRequired
			}
		}
	}
	api.current = nil
	api.mu.Unlock()

	entries, err := api.closeRun(ctx.Request().Context(), run)
	if err != nil {
		// a kiosk that cannot journal its audit trail must not keep running
		return core.NewShutdownError(err.Error())
	}

	res := closeSessionResponse{
		SessionID:  run.sess.ID,
		Recognized: entries,
		Count:      len(entries),
	}
	return ctx.JSON(http.StatusOK, res)
}

// closeRun stops the scheduler, waits for any in-flight recognition to
// merge, releases the camera and journals the final tally. A journal
// write failure is returned; the kiosk cannot keep its audit trail and
// should not pretend otherwise.
func (api *sessionAPI) closeRun(ctx context.Context, run *captureRun) ([]attendance.Entry, error) {
	run.sched.Stop()
	run.sched.Wait()
	if err := run.source.Close(); err != nil {
		api.deps.Logger.Warn(fmt.Sprintf("releasing camera: %v", err))
	}

	entries := run.store.List()
	run.store.Clear()

	if api.deps.Journal != nil {
		if err := api.deps.Journal.RecordSession(ctx, run.sess, entries); err != nil {
			return entries, errors.Wrapf(err, "journaling session %s", run.sess.ID)
		}
	}

	if api.deps.MailSvc != nil && len(api.deps.Conf.Kiosk.SummaryEmails) > 0 {
		to := make([]mail.Address, 0, len(api.deps.Conf.Kiosk.SummaryEmails))
		for _, addr := range api.deps.Conf.Kiosk.SummaryEmails {
			to = append(to, mail.Address{Address: addr})
		}
		api.deps.MailSvc.SendMessages(attendance.SummaryEmail(run.sess, entries, to))
	}
	return entries, nil
}

func (api *sessionAPI) sessionSubmit(ctx echo.Context) error {
	api.mu.Lock()
	run := api.current
	api.mu.Unlock()

	if run == nil {
		return errNoActiveSession
	}

	entries := run.store.List()
	records := make([]attendance.StatusRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, attendance.StatusRecord{StudentID: entry.StudentID, Status: attendance.StatusPresent})
	}
	if err := api.deps.Gateway.SubmitAttendance(ctx.Request().Context(), run.sess.ClassID, run.sess.Date, records); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"submitted": len(records)})
}

func (api *sessionAPI) rosterRetrieve(ctx echo.Context) error {
	classID, err := strconv.Atoi(ctx.QueryParam("class_id"))
	if err != nil || classID < 1 {
		return core.NewValidationError(errors.New("invalid roster query"),
			core.FieldError{Field: "class_id", Error: "must be a positive integer"})
	}
	date := ctx.QueryParam("date")
	if err = validateSessionDate(api.deps.Validate, date); err != nil {
		return core.NewValidationError(errors.New("invalid roster query"),
			core.FieldError{Field: "date", Error: "expected YYYY-MM-DD"})
	}

	reqCtx := ctx.Request().Context()
	roster, err := api.deps.Gateway.ClassStudents(reqCtx, classID)
	if err != nil {
		return err
	}
	records, err := api.deps.Gateway.SessionAttendance(reqCtx, classID, date)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, attendance.Combine(roster, records))
}
