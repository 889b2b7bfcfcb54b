package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrorClass decides whether a failed dispatch is retried
type ErrorClass int

const (
	ClassPermanent ErrorClass = iota
	ClassRateLimited
	ClassTransient
	ClassServer
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassServer:
		return "server"
	default:
		return "permanent"
	}
}

// Retriable reports whether errors of this class are retried
func (c ErrorClass) Retriable() bool {
	return c != ClassPermanent
}

// Classifier maps a dispatch error onto an ErrorClass
type Classifier func(err error) ErrorClass

// SendError is the inspectable error shape returned by provider APIs
type SendError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classify is the default classification shared by all providers
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	var se *SendError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassPermanent
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassServer
	case status == http.StatusRequestTimeout:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
