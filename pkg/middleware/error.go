package middleware

import (
	"errors"
	"net/http"

	"merchant-voucher/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error. BaseErrors
// keep their status; anything else is a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(err.Err, &base) {
			if base.Code.HTTPStatus() >= http.StatusInternalServerError {
				zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err.Err))
			}
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		zap.L().Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err.Err))
		internal := errutil.Internal("internal error", nil).(errutil.BaseError)
		c.JSON(http.StatusInternalServerError, internal.JSON())
	}
}
