package handlers

import (
	"net/http"
	"strconv"

	"go-backend/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps an application error onto the wire: stable code, human
// readable reason, retryable hint.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	c.JSON(status, gin.H{
		"success":   false,
		"error":     err.Error(),
		"code":      string(apperrors.KindOf(err)),
		"retryable": apperrors.Retryable(err),
	})
}

func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request: " + err.Error(),
		"code":    string(apperrors.KindValidation),
	})
}

// limitParam parses ?limit=N with a default and a hard ceiling.
func limitParam(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
