package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed request.
type ErrorKind int

const (
	// KindNetwork means no response was received.
	KindNetwork ErrorKind = iota
	// KindUnauthorized is a 401 or 403.
	KindUnauthorized
	// KindClient is any other 4xx.
	KindClient
	// KindServer is a 5xx or an unreadable response.
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindClient:
		return "client"
	default:
		return "server"
	}
}

// Generic messages used when the backend gives no reason of its own.
const (
	MsgNetwork      = "unable to reach the server, check if the backend is running"
	MsgUnauthorized = "your session has expired, please sign in again"
	MsgForbidden    = "you do not have access to this page"
	MsgNotFound     = "the requested resource was not found"
	MsgClient       = "the request could not be processed, please check the details and try again"
	MsgServer       = "the server ran into a problem, please try again later"
)

// Error is returned for every failed backend call. Message is always fit to
// show the user.
type Error struct {
	Status  int // zero for network failures
	Message string
	Kind    ErrorKind
	Method  string
	Path    string
	err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// statusError builds the error for a non 2xx response. serverMsg wins when set.
func statusError(method, path string, status int, serverMsg string) *Error {
	e := &Error{Status: status, Method: method, Path: path, Message: serverMsg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case status >= 400 && status < 500:
		e.Kind = KindClient
	default:
		e.Kind = KindServer
	}
	if e.Message != "" {
		return e
	}
	switch {
	case status == http.StatusUnauthorized:
		e.Message = MsgUnauthorized
	case status == http.StatusForbidden:
		e.Message = MsgForbidden
	case status == http.StatusNotFound:
		e.Message = MsgNotFound
	case e.Kind == KindClient:
		e.Message = MsgClient
	default:
		e.Message = MsgServer
	}
	return e
}

func networkError(method, path string, err error) *Error {
	return &Error{Kind: KindNetwork, Method: method, Path: path, Message: MsgNetwork, err: err}
}

// IsUnauthorized reports whether err is a 401 or 403 from the backend.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindUnauthorized
}

// IsNetwork reports whether err means the backend could not be reached.
func IsNetwork(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork
}

// Message returns the user facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
