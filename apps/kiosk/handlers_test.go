package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
	emailsvc "github.com/trezcool/mahudhurio/services/email"
	"github.com/trezcool/mahudhurio/storage/journal"
)

// noopLogger satisfies core.Logger for tests.
type noopLogger struct{}

func (noopLogger) Enable(bool)                  {}
func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

type fakeSource struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSource) Capture(context.Context) (attendance.Frame, error) {
	return attendance.Frame{Data: []byte("jpeg"), CapturedAt: time.Now()}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeBackend struct {
	mu          sync.Mutex
	cred        user.Credential
	loginErr    error
	recognizeFn func() (attendance.Recognition, error)
	roster      []attendance.RosterEntry
	records     []attendance.StatusRecord
	submitted   []attendance.StatusRecord
}

var _ Backend = (*fakeBackend)(nil)

func (b *fakeBackend) Login(_ context.Context, _, _ string) (user.Credential, error) {
	if b.loginErr != nil {
		return user.Credential{}, b.loginErr
	}
	return b.cred, nil
}

func (b *fakeBackend) Credential() user.Credential { return b.cred }

func (b *fakeBackend) Recognize(context.Context, attendance.Frame, int, string, bool) (attendance.Recognition, error) {
	b.mu.Lock()
	fn := b.recognizeFn
	b.mu.Unlock()
	if fn == nil {
		return attendance.Recognition{Outcome: attendance.NoMatch}, nil
	}
	return fn()
}

func (b *fakeBackend) ClassStudents(context.Context, int) ([]attendance.RosterEntry, error) {
	return b.roster, nil
}

func (b *fakeBackend) SessionAttendance(context.Context, int, string) ([]attendance.StatusRecord, error) {
	return b.records, nil
}

func (b *fakeBackend) SubmitAttendance(_ context.Context, _ int, _ string, records []attendance.StatusRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, records...)
	return nil
}

func (b *fakeBackend) submittedRecords() []attendance.StatusRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted
}

func teacherCredential(t *testing.T) user.Credential {
	t.Helper()
	claims := user.Claims{
		StandardClaims: jwt.StandardClaims{Subject: "ana@test.cd", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		Role:           "teacher",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	cred, err := user.NewCredential(token, 7, "")
	require.NoError(t, err)
	return cred
}

type testApp struct {
	server  *Server
	backend *fakeBackend
	source  *fakeSource
	mailSvc *emailsvc.DummyService
	journal *journal.Journal
}

func newTestApp(t *testing.T, backend *fakeBackend, mutate ...func(*core.Config)) *testApp {
	t.Helper()

	conf := &core.Config{
		AppName:  "mahudhurio",
		TestMode: true,
		DataDir:  t.TempDir(),
		API:      core.APIConfig{CaptureInterval: 5 * time.Millisecond},
		Kiosk:    core.KioskConfig{Address: "127.0.0.1:0"},
	}
	for _, m := range mutate {
		m(conf)
	}

	logger := noopLogger{}
	core.ParseEmailTemplates(logger)

	jrnl, err := journal.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	source := &fakeSource{}
	mailSvc := emailsvc.NewDummyService(conf)

	app := &testApp{
		backend: backend,
		source:  source,
		mailSvc: mailSvc,
		journal: jrnl,
	}
	app.server = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Gateway:    backend,
		NewSource:  func() (attendance.FrameSource, error) { return source, nil },
		Journal:    jrnl,
		MailSvc:    mailSvc,
		Validate:   validate,
		Translator: translator,
	})
	t.Cleanup(func() { app.server.api.closeCurrent(context.Background()) })
	return app
}

func (a *testApp) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buff bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buff).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buff)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startBody(classID int, date string, public bool) echo.Map {
	return echo.Map{"class_id": classID, "session_date": date, "public": public}
}

func TestKioskHome(t *testing.T) {
	app := newTestApp(t, &fakeBackend{})
	rec := app.request(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKioskLogin(t *testing.T) {
	backend := &fakeBackend{cred: teacherCredential(t)}
	app := newTestApp(t, backend)

	tests := []struct {
		name     string
		body     interface{}
		loginErr error
		wantCode int
	}{
		{"ok", map[string]string{"email": "ana@test.cd", "password": "s3cret"}, nil, http.StatusOK},
		{"missing fields", map[string]string{"email": "ana@test.cd"}, nil, http.StatusBadRequest},
		{"bad email", map[string]string{"email": "nope", "password": "x"}, nil, http.StatusBadRequest},
		{
			"backend rejects",
			map[string]string{"email": "ana@test.cd", "password": "wrong"},
			attendance.NewError(attendance.KindUnauthenticated, errors.New("bad credentials")),
			http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend.loginErr = tt.loginErr
			rec := app.request(t, http.MethodPost, "/v1/login", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode == http.StatusOK {
				var res loginResponse
				decodeBody(t, rec, &res)
				assert.Equal(t, "teacher", res.Role)
				assert.Equal(t, 7, res.UserID)
			}
		})
	}
}

func TestKioskSessionStartValidation(t *testing.T) {
	app := newTestApp(t, &fakeBackend{cred: teacherCredential(t)})

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing class", echo.Map{"session_date": "2024-05-01"}},
		{"bad date", startBody(5, "01/05/2024", false)},
		{"interval too small", echo.Map{"class_id": 5, "session_date": "2024-05-01", "interval_ms": 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.request(t, http.MethodPost, "/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestKioskSessionStartAuth(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		app := newTestApp(t, &fakeBackend{})
		rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	})

	t.Run("role cannot capture", func(t *testing.T) {
		cred := teacherCredential(t)
		cred.Role = user.RoleStudent
		app := newTestApp(t, &fakeBackend{cred: cred})
		rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	t.Run("public needs no credential", func(t *testing.T) {
		app := newTestApp(t, &fakeBackend{})
		rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", true))
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})
}

func TestKioskSessionLifecycle(t *testing.T) {
	backend := &fakeBackend{cred: teacherCredential(t)}
	var calls int
	backend.recognizeFn = func() (attendance.Recognition, error) {
		backend.mu.Lock()
		calls++
		n := calls
		backend.mu.Unlock()
		switch n {
		case 1, 2:
			return attendance.Recognition{Outcome: attendance.Matched, StudentID: 42, FullName: "Ana"}, nil
		default:
			return attendance.Recognition{Outcome: attendance.NoMatch}, nil
		}
	}
	app := newTestApp(t, backend, func(conf *core.Config) {
		conf.Kiosk.SummaryEmails = []string{"director@test.cd"}
	})

	// no session yet
	rec := app.request(t, http.MethodGet, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created sessionResponse
	decodeBody(t, rec, &created)
	assert.Equal(t, 5, created.ClassID)
	assert.Equal(t, "2024-05-01", created.Date)
	assert.Equal(t, "capturing", created.State)
	assert.Empty(t, created.Recognized)

	// a second session cannot start while one is live
	rec = app.request(t, http.MethodPost, "/v1/sessions", startBody(6, "2024-05-01", false))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// the duplicate recognition must collapse into one entry
	waitFor(t, func() bool {
		rec := app.request(t, http.MethodGet, "/v1/sessions/current", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var res sessionResponse
		decodeBody(t, rec, &res)
		return len(res.Recognized) == 1
	}, "recognition never reached the session")

	rec = app.request(t, http.MethodDelete, "/v1/sessions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var closed closeSessionResponse
	decodeBody(t, rec, &closed)
	assert.Equal(t, created.ID, closed.SessionID)
	assert.Equal(t, 1, closed.Count)
	require.Len(t, closed.Recognized, 1)
	assert.Equal(t, 42, closed.Recognized[0].StudentID)

	assert.Equal(t, 1, app.source.closeCount(), "camera released on close")

	// session is gone
	rec = app.request(t, http.MethodGet, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = app.request(t, http.MethodDelete, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// final tally journaled
	sessions, err := app.journal.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Recognized)

	// summary email sent
	sent := app.mailSvc.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "2024-05-01")
}

func TestKioskSessionAuthDeath(t *testing.T) {
	backend := &fakeBackend{cred: teacherCredential(t)}
	backend.recognizeFn = func() (attendance.Recognition, error) {
		return attendance.Recognition{}, attendance.NewError(attendance.KindUnauthenticated, errors.New("token expired"))
	}
	app := newTestApp(t, backend)

	rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
	require.Equal(t, http.StatusCreated, rec.Code)

	// the dead credential surfaces on the session view as a 401
	waitFor(t, func() bool {
		return app.request(t, http.MethodGet, "/v1/sessions/current", nil).Code == http.StatusUnauthorized
	}, "credential death never surfaced")

	// closing still works and releases the camera
	rec = app.request(t, http.MethodDelete, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, app.source.closeCount())
}

func TestKioskPublicSessionPin(t *testing.T) {
	pinHash, err := user.HashPin("4321")
	require.NoError(t, err)

	app := newTestApp(t, &fakeBackend{}, func(conf *core.Config) {
		conf.Kiosk.PinHash = pinHash
	})

	rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"no pin", nil, http.StatusForbidden},
		{"wrong pin", echo.Map{"pin": "0000"}, http.StatusForbidden},
		{"correct pin", echo.Map{"pin": "4321"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.request(t, http.MethodDelete, "/v1/sessions/current", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestKioskSessionSubmit(t *testing.T) {
	backend := &fakeBackend{cred: teacherCredential(t)}
	backend.recognizeFn = func() (attendance.Recognition, error) {
		return attendance.Recognition{Outcome: attendance.Matched, StudentID: 42, FullName: "Ana"}, nil
	}
	app := newTestApp(t, backend)

	rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
	require.Equal(t, http.StatusCreated, rec.Code)

	waitFor(t, func() bool {
		rec := app.request(t, http.MethodGet, "/v1/sessions/current", nil)
		var res sessionResponse
		decodeBody(t, rec, &res)
		return len(res.Recognized) == 1
	}, "recognition never recorded")

	rec = app.request(t, http.MethodPost, "/v1/sessions/current/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res map[string]int
	decodeBody(t, rec, &res)
	assert.Equal(t, 1, res["submitted"])

	submitted := backend.submittedRecords()
	require.Len(t, submitted, 1)
	assert.Equal(t, attendance.StatusRecord{StudentID: 42, Status: attendance.StatusPresent}, submitted[0])
}

func TestKioskRoster(t *testing.T) {
	backend := &fakeBackend{
		cred: teacherCredential(t),
		roster: []attendance.RosterEntry{
			{StudentID: 1, FullName: "Ana"},
			{StudentID: 2, FullName: "Bo"},
		},
		records: []attendance.StatusRecord{{StudentID: 1, Status: attendance.StatusPresent}},
	}
	app := newTestApp(t, backend)

	rec := app.request(t, http.MethodGet, "/v1/roster?class_id=5&date=2024-05-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res []attendance.RosterStatus
	decodeBody(t, rec, &res)
	require.Len(t, res, 2)
	assert.Equal(t, attendance.StatusPresent, res[0].Status)
	assert.Equal(t, attendance.StatusAbsent, res[1].Status, "unrecorded students default to absent")

	// bad query params come back as a field error map
	tests := []struct {
		name      string
		query     string
		wantField string
	}{
		{"missing class_id", "date=2024-05-01", "class_id"},
		{"negative class_id", "class_id=-1&date=2024-05-01", "class_id"},
		{"missing date", "class_id=5", "date"},
		{"malformed date", "class_id=5&date=soon", "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.request(t, http.MethodGet, "/v1/roster?"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var fldErrs map[string]string
			decodeBody(t, rec, &fldErrs)
			assert.Contains(t, fldErrs, tt.wantField)
		})
	}
}

func TestKioskBackendFieldErrors(t *testing.T) {
	backend := &fakeBackend{
		loginErr: attendance.NewError(attendance.KindUnprocessable,
			core.NewValidationError(errors.New("unprocessable entity"),
				core.FieldError{Field: "password", Error: "ensure this value has at least 8 characters"})),
	}
	app := newTestApp(t, backend)

	rec := app.request(t, http.MethodPost, "/v1/login", map[string]string{"email": "ana@test.cd", "password": "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var fldErrs map[string]string
	decodeBody(t, rec, &fldErrs)
	assert.Equal(t, map[string]string{"password": "ensure this value has at least 8 characters"}, fldErrs)
}

func TestKioskJournalFailureShutsDown(t *testing.T) {
	app := newTestApp(t, &fakeBackend{cred: teacherCredential(t)})

	rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
	require.Equal(t, http.StatusCreated, rec.Code)

	// kill the journal under the running session
	require.NoError(t, app.journal.Close())

	rec = app.request(t, http.MethodDelete, "/v1/sessions/current", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Equal(t, 1, app.source.closeCount(), "camera released even when journaling fails")

	select {
	case <-app.server.ShutdownSignal():
	case <-time.After(time.Second):
		t.Fatal("journal failure on close never signaled shutdown")
	}
}

func TestKioskShutdownClosesSession(t *testing.T) {
	app := newTestApp(t, &fakeBackend{cred: teacherCredential(t)})

	rec := app.request(t, http.MethodPost, "/v1/sessions", startBody(5, "2024-05-01", false))
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.server.Shutdown(ctx))

	assert.Equal(t, 1, app.source.closeCount(), "daemon shutdown must release the camera")

	sessions, err := app.journal.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
