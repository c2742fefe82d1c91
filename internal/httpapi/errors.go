package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/apperr"
	"geoattend/internal/ctxlog"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidCoordinate, apperr.KindInvalidWindow, apperr.KindBadCode,
		apperr.KindOutsideGeofence, apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotOwner, apperr.KindNotEnrolled, apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound, apperr.KindSessionNotFound:
		return http.StatusNotFound
	case apperr.KindSessionAlreadyOpen, apperr.KindAlreadyClosed, apperr.KindDuplicateSubmission:
		return http.StatusConflict
	case apperr.KindSessionClosed:
		return http.StatusGone
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": kind, "message": text}. Internal
// failures are logged and their details withheld from the client.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := "internal error"
	var e *apperr.Error
	if kind != apperr.KindInternal && errors.As(err, &e) {
		msg = e.Message
		if kind == apperr.KindBadRequest && e.Err != nil {
			msg = e.Error()
		}
		if msg == "" {
			msg = string(kind)
		}
	}
	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(c.Request.Context()).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg})
}

func badRequest(err error) error {
	return apperr.Wrap(apperr.KindBadRequest, err, "invalid request")
}

func badRequestf(format string, args ...any) error {
	return apperr.New(apperr.KindBadRequest, format, args...)
}
