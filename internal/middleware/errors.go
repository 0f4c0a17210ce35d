package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
)

// Recovery turns a panic in a downstream handler into an UnknownError
// response instead of crashing the process, logging the panic value.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				Logger(c, logger).Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				writeError(c, apperr.UnknownError.WithDetail("internal server error"))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// ErrorMapper renders the last error attached via c.Error() as the
// {error, code, message} envelope (non-*apperr.Error values become
// UnknownError). It calls c.Next() first and renders afterwards, so it must
// be registered ahead of every route handler that can fail.
func ErrorMapper() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		appErr, ok := err.(*apperr.Error)
		if !ok {
			appErr = apperr.UnknownError.WithDetail(err.Error())
		}
		writeError(c, appErr)
	}
}

// Fail records err on the context and stops further handler execution; the
// trailing ErrorMapper middleware renders the response.
func Fail(c *gin.Context, err *apperr.Error) {
	c.Error(err) //nolint:errcheck
	c.Abort()
}

func writeError(c *gin.Context, err *apperr.Error) {
	if c.Writer.Written() {
		return
	}
	c.JSON(err.HTTPStatus(), err)
}

// NotFoundHandler is registered as gin's NoRoute handler so unmatched paths
// return the same error envelope as every other route (apperr.PathNotFound)
// instead of gin's bare 404 body.
func NotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, apperr.PathNotFound)
}
