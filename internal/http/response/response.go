package response

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/quizforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp string `json:"timestamp"`
}

type ErrorEnvelope struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

type DataEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, DataEnvelope{Success: true, Data: payload})
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, DataEnvelope{Success: true, Data: payload})
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// RespondError maps the error onto the envelope. *apierr.Error carries its
// own status and code; the errs sentinels cover the common repo failures,
// constraint violations from the database translate to 409/422, and anything
// else is a 500. Raw driver text never reaches the client: constraint errors
// get a fixed message, and 500s outside debug mode are reduced to a generic
// one.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	retryAfter := 0

	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		status = ae.Status
		code = ae.Code
		retryAfter = ae.RetryAfter
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "unauthorized"
	case errors.Is(err, errs.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "invalid_argument"
	case errors.Is(err, gorm.ErrDuplicatedKey) || pgErrorCode(err) == pgUniqueViolation:
		status = http.StatusConflict
		code = "duplicate_key"
	case errors.Is(err, gorm.ErrForeignKeyViolated) || pgErrorCode(err) == pgForeignKeyViolation:
		status = http.StatusUnprocessableEntity
		code = "invalid_reference"
	}

	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	switch {
	case code == "duplicate_key":
		msg = "a record with the same unique value already exists"
	case code == "invalid_reference":
		msg = "a referenced record does not exist"
	case status >= http.StatusInternalServerError && gin.Mode() != gin.DebugMode:
		msg = "internal server error"
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Code:      code,
			Message:   msg,
			RequestID: ctxutil.RequestID(c.Request.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}
