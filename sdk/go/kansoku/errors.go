// Package kansoku provides a Go client for the kansoku trace ingestion and
// query API.
package kansoku

import (
	"errors"
	"fmt"
)

// Error represents an error from the kansoku API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kansoku: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	return hasStatus(err, 404)
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	return hasStatus(err, 429)
}

// IsTooLarge returns true if the error is a 413: the request body or one
// multipart part exceeded the server's limit.
func IsTooLarge(err error) bool {
	return hasStatus(err, 413)
}

func hasStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}
