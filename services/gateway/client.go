// Package gateway implements the REST client for the school platform
// backend: authentication, face recognition and the roster/attendance
// read and write endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

// Client talks to the platform backend. Safe for concurrent use; the
// credential is shared between the capture loop and UI handlers.
type Client struct {
	baseURL string
	http    *http.Client
	logger  core.Logger

	credMu sync.RWMutex
	cred   user.Credential
}

var _ attendance.Gateway = (*Client)(nil)

// NewClient builds a Client from config. The HTTP client carries an
// explicit timeout (config `apiTimeout`, 10s default) rather than
// inheriting net/http's no-timeout default: a hanging recognition call
// must release the capture loop's single-flight slot eventually.
func NewClient(conf *core.Config, logger core.Logger) *Client {
	timeout := conf.API.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: conf.API.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) SetCredential(cred user.Credential) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	c.cred = cred
}

func (c *Client) Credential() user.Credential {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.cred
}

// credential returns the held credential or an unauthenticated error when
// it is missing or expired. Expiry is checked client-side so a dead token
// fails fast instead of burning a round trip.
func (c *Client) credential() (user.Credential, error) {
	cred := c.Credential()
	if cred.IsZero() {
		return user.Credential{}, attendance.NewError(attendance.KindUnauthenticated, errors.New("not logged in"))
	}
	if cred.Expired(time.Now()) {
		return user.Credential{}, attendance.NewError(attendance.KindUnauthenticated, errors.New("credential expired"))
	}
	return cred, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	ID          int    `json:"id"`
}

// Login authenticates against the backend and holds the returned
// credential for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (user.Credential, error) {
	var res loginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: core.CleanString(email, true), Password: password}, "", &res)
	if err != nil {
		return user.Credential{}, err
	}

	cred, err := user.NewCredential(res.AccessToken, res.ID, res.Role)
	if err != nil {
		return user.Credential{}, err
	}
	c.SetCredential(cred)
	return cred, nil
}

type recognizeRequest struct {
	Image       string `json:"image"`
	ClassID     int    `json:"class_id"`
	SessionDate string `json:"session_date"`
}

type recognizeResponse struct {
	StudentID int    `json:"student_id"`
	FullName  string `json:"full_name"`
}

// Recognize submits one frame for recognition. The backend's "no
// candidate" rejection (404) and a response without a student id both map
// to a NoMatch recognition; they are outcomes, not errors.
func (c *Client) Recognize(ctx context.Context, frame attendance.Frame, classID int, date string, public bool) (attendance.Recognition, error) {
	path := "/attendance/face-attendance"
	token := ""
	if public {
		path += "/public"
	} else {
		cred, err := c.credential()
		if err != nil {
			return attendance.Recognition{}, err
		}
		token = cred.Token
	}

	body := recognizeRequest{
		Image:       base64.StdEncoding.EncodeToString(frame.Data),
		ClassID:     classID,
		SessionDate: date,
	}

	var res recognizeResponse
	if err := c.do(ctx, http.MethodPost, path, body, token, &res); err != nil {
		if attendance.KindOf(err) == attendance.KindUnavailable && statusOf(err) == http.StatusNotFound {
			return attendance.Recognition{Outcome: attendance.NoMatch}, nil
		}
		return attendance.Recognition{}, err
	}

	if res.StudentID == 0 {
		return attendance.Recognition{Outcome: attendance.NoMatch}, nil
	}
	return attendance.Recognition{
		Outcome:   attendance.Matched,
		StudentID: res.StudentID,
		FullName:  res.FullName,
	}, nil
}

// ClassStudents fetches the enrolled roster of a class.
func (c *Client) ClassStudents(ctx context.Context, classID int) ([]attendance.RosterEntry, error) {
	cred, err := c.credential()
	if err != nil {
		return nil, err
	}
	var roster []attendance.RosterEntry
	path := fmt.Sprintf("/classes/%d/students", classID)
	if err = c.do(ctx, http.MethodGet, path, nil, cred.Token, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// SessionAttendance fetches the persisted attendance records of a class
// session.
func (c *Client) SessionAttendance(ctx context.Context, classID int, date string) ([]attendance.StatusRecord, error) {
	cred, err := c.credential()
	if err != nil {
		return nil, err
	}
	var records []attendance.StatusRecord
	path := fmt.Sprintf("/classes/%d/sessions/%s/attendance", classID, date)
	if err = c.do(ctx, http.MethodGet, path, nil, cred.Token, &records); err != nil {
		return nil, err
	}
	return records, nil
}

type submitRecord struct {
	StudentID int    `json:"student_id"`
	Status    string `json:"status"`
}

// SubmitAttendance persists attendance records for a class session. This
// is the explicit operator action that reconciles the live recognized
// list into the system of record.
func (c *Client) SubmitAttendance(ctx context.Context, classID int, date string, records []attendance.StatusRecord) error {
	cred, err := c.credential()
	if err != nil {
		return err
	}
	body := make([]submitRecord, 0, len(records))
	for _, rec := range records {
		body = append(body, submitRecord{StudentID: rec.StudentID, Status: string(rec.Status)})
	}
	path := fmt.Sprintf("/classes/%d/sessions/%s/attendance", classID, date)
	return c.do(ctx, http.MethodPost, path, body, cred.Token, nil)
}

// do performs one JSON round trip and classifies failures.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, token string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return attendance.NewError(attendance.KindUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return classify(res)
	}

	if out != nil {
		if err = json.NewDecoder(res.Body).Decode(out); err != nil {
			return attendance.NewError(attendance.KindUnavailable, errors.Wrap(err, "decoding response"))
		}
	}
	return nil
}
