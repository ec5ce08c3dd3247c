package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorKind は認証・認可エラーの種別です。
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindUnauthenticated    ErrorKind = "UNAUTHENTICATED"
	KindForbidden          ErrorKind = "FORBIDDEN"
)

// Error はHTTPレスポンスにそのまま変換される認証・認可エラーです。
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Status: http.StatusUnauthorized, Message: "Invalid username/password combination"}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: "401: Unauthorized"}
	ErrForbidden          = &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: "403: Forbidden"}
)

func respondWithError(c *gin.Context, err error) {
	var authErr *Error
	switch {
	case errors.As(err, &authErr):
		c.String(authErr.Status, authErr.Message)
	case errors.Is(err, context.Canceled):
		c.String(http.StatusRequestTimeout, "408: Request Timeout")
	default:
		c.String(http.StatusInternalServerError, "500: Internal Server Error")
	}
}
