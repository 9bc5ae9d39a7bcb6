package main

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

var (
	errNoActiveSession      = echo.NewHTTPError(http.StatusNotFound, "no active capture session")
	errSessionAlreadyActive = echo.NewHTTPError(http.StatusConflict, "a capture session is already active")
	errPinRequired          = echo.NewHTTPError(http.StatusForbidden, "kiosk pin required")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shut the server down whenever a core shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var gwErr *attendance.Error

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if m := origErr.FieldMap(); m != nil {
				message = m
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if errors.As(err, &gwErr) {
				code, message = gatewayErrorResponse(gwErr)
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// gatewayErrorResponse maps a classified backend failure to the kiosk's
// own response. The capture view redirects to re-authentication on 401.
func gatewayErrorResponse(err *attendance.Error) (int, interface{}) {
	switch err.Kind {
	case attendance.KindUnauthenticated:
		return http.StatusUnauthorized, "session expired, please log in again"
	case attendance.KindForbidden:
		return http.StatusForbidden, "not allowed to perform this attendance action"
	case attendance.KindUnprocessable:
		var vErr *core.ValidationError
		if errors.As(err, &vErr) {
			if m := vErr.FieldMap(); m != nil {
				return http.StatusBadRequest, m
			}
		}
		return http.StatusBadRequest, "the backend rejected the request payload"
	default:
		return http.StatusBadGateway, "school backend unreachable"
	}
}
