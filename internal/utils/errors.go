package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// CustomError is an error with an HTTP status and a message safe to show
// to users.
type CustomError struct {
	Code    int
	Message string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

func New(code int, message string) error {
	return &CustomError{
		Code:    code,
		Message: message,
	}
}

// AsCustom returns err as a CustomError. Errors of any other type become a
// 500 with a generic message.
func AsCustom(err error) *CustomError {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}
	return &CustomError{Code: http.StatusInternalServerError, Message: "internal server error"}
}
