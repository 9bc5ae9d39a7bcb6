package main

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
)

var (
	errNoCredential      = errors.New("not logged in")
	errCredentialExpired = errors.New("credential expired")
)

type (
	loginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	loginResponse struct {
		Role   string `json:"role"`
		UserID int    `json:"user_id"`
	}

	startSessionRequest struct {
		ClassID    int    `json:"class_id" validate:"required,min=1"`
		Date       string `json:"session_date" validate:"required,sessiondate"`
		IntervalMS int    `json:"interval_ms" validate:"omitempty,min=500,max=60000"`
		Public     bool   `json:"public"`
	}

	closeSessionRequest struct {
		Pin string `json:"pin"`
	}

	sessionResponse struct {
		ID         string             `json:"id"`
		ClassID    int                `json:"class_id"`
		Date       string             `json:"session_date"`
		Public     bool               `json:"public"`
		State      string             `json:"state"`
		LastError  string             `json:"last_error,omitempty"`
		Recognized []attendance.Entry `json:"recognized"`
	}

	closeSessionResponse struct {
		SessionID  string             `json:"session_id"`
		Recognized []attendance.Entry `json:"recognized"`
		Count      int                `json:"count"`
	}
)

func (r *loginRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *startSessionRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *startSessionRequest) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func newSessionResponse(run *captureRun) sessionResponse {
	lastErr, _ := run.status()
	entries := run.store.List()
	if entries == nil {
		entries = []attendance.Entry{}
	}
	return sessionResponse{
		ID:         run.sess.ID,
		ClassID:    run.sess.ClassID,
		Date:       run.sess.Date,
		Public:     run.sess.Public,
		State:      run.sched.State().String(),
		LastError:  lastErr,
		Recognized: entries,
	}
}

// validateSessionDate checks a YYYY-MM-DD query value.
func validateSessionDate(validate *validator.Validate, date string) error {
	if date == "" {
		return errors.New("missing date")
	}
	return validate.Var(date, "sessiondate")
}
