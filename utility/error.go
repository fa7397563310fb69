package utility

import "errors"

type AppError struct {
	code    string
	message string
}

func (e *AppError) Error() string {
	return e.message
}

// Code returns the OCPP-J error code the failure should be reported with,
// empty for plain internal errors.
func (e *AppError) Code() string {
	return e.code
}

func Err(m string) error {
	return &AppError{message: m}
}

func ErrWithCode(code, m string) error {
	return &AppError{code: code, message: m}
}

// CodeOf extracts the error code carried by an AppError, if any.
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.code
	}
	return ""
}
