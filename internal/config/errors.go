package config

import "fmt"

type ErrorCode string

const (
	ErrorCodeMissing ErrorCode = "missing"
	ErrorCodeInvalid ErrorCode = "invalid"
)

// Error reports a configuration key that cannot be used.
type Error struct {
	Code    ErrorCode
	Key     string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("config %s: %s", e.Code, e.Key)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Code, e.Key, e.Message)
}

func missing(key string) error {
	return &Error{Code: ErrorCodeMissing, Key: key, Message: "not set"}
}

func invalid(key, msg string) error {
	return &Error{Code: ErrorCodeInvalid, Key: key, Message: msg}
}
