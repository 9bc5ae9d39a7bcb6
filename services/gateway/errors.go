package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// statusError keeps the raw HTTP status and the backend's detail message
// underneath the classified attendance.Error.
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("http %d", e.status)
	}
	return fmt.Sprintf("http %d: %s", e.status, e.detail)
}

// errorBody is FastAPI's standard error envelope.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// classify maps an error response to an attendance.Error kind. A 422
// carrying the backend's validation detail array additionally yields a
// core.ValidationError so handlers can surface the field map.
func classify(res *http.Response) error {
	sErr := &statusError{status: res.StatusCode}
	var body errorBody
	if data, err := io.ReadAll(io.LimitReader(res.Body, 4<<10)); err == nil {
		if json.Unmarshal(data, &body) == nil && len(body.Detail) > 0 {
			var msg string
			if json.Unmarshal(body.Detail, &msg) == nil {
				sErr.detail = msg
			} else {
				sErr.detail = string(body.Detail)
			}
		}
	}

	var kind attendance.ErrorKind
	switch res.StatusCode {
	case http.StatusUnauthorized:
		kind = attendance.KindUnauthenticated
	case http.StatusForbidden:
		kind = attendance.KindForbidden
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		kind = attendance.KindUnprocessable
		if flds := fieldErrors(body.Detail); len(flds) > 0 {
			return attendance.NewError(kind, core.NewValidationError(sErr, flds...))
		}
	default:
		kind = attendance.KindUnavailable
	}
	return attendance.NewError(kind, sErr)
}

// fieldErrors decodes FastAPI's validation detail array
// ([{loc: ["body", "<field>"], msg: "...", ...}]); nil when the detail is
// a plain message.
func fieldErrors(detail json.RawMessage) []core.FieldError {
	var items []struct {
		Loc []interface{} `json:"loc"`
		Msg string        `json:"msg"`
	}
	if len(detail) == 0 || json.Unmarshal(detail, &items) != nil {
		return nil
	}

	flds := make([]core.FieldError, 0, len(items))
	for _, item := range items {
		var field string
		// loc is a path; the last string segment past "body" names the field
		for i := len(item.Loc) - 1; i >= 0; i-- {
			if s, ok := item.Loc[i].(string); ok && s != "body" {
				field = s
				break
			}
		}
		if field == "" || item.Msg == "" {
			continue
		}
		flds = append(flds, core.FieldError{Field: field, Error: item.Msg})
	}
	return flds
}

// statusOf digs the HTTP status out of a classified error, 0 when absent.
func statusOf(err error) int {
	var sErr *statusError
	if errors.As(err, &sErr) {
		return sErr.status
	}
	return 0
}
