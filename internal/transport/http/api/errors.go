package apihttp

import (
	"net/http"

	"brokergw/internal/apperr"
	"brokergw/internal/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps a failure category onto an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch {
	case kind.IsValidation(), kind == apperr.KindOrderRejected:
		return http.StatusBadRequest
	case kind == apperr.KindNotAuthenticated, kind == apperr.KindLoginFailed:
		return http.StatusUnauthorized
	case kind == apperr.KindNotFound:
		return http.StatusNotFound
	case kind == apperr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s failed rid=%s err=%v", c.Request.Method, c.FullPath(), c.GetString(requestIDKey), err)
	} else {
		logger.Debugf("[api] %s %s rejected rid=%s kind=%s", c.Request.Method, c.FullPath(), c.GetString(requestIDKey), kind)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success":     false,
		"error":       string(kind),
		"detail":      apperr.DetailOf(err),
		"status_code": status,
	})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, apperr.Wrap(apperr.KindInvalidRequest, "decode_body", err))
}
