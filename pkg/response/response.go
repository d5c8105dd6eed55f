package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = apperrors.ErrInternal
	}

	appErr := apperrors.FromError(err)
	c.JSON(statusFor(appErr.Code), Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

// ErrorWithStatus writes a JSON error response with an explicit status code.
func ErrorWithStatus(c *gin.Context, status int, err error) {
	appErr := apperrors.FromError(err)
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

func statusFor(code string) int {
	switch code {
	case apperrors.ErrOffline.Code:
		return http.StatusServiceUnavailable
	case apperrors.ErrAlreadySyncing.Code:
		return http.StatusConflict
	case apperrors.ErrNotFound.Code:
		return http.StatusNotFound
	case apperrors.ErrCapacity.Code:
		return http.StatusInsufficientStorage
	case apperrors.ErrSerialization.Code:
		return http.StatusBadRequest
	case apperrors.ErrTransientNetwork.Code:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
