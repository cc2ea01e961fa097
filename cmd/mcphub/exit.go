package main

// Exit codes used by check.
const (
	exitConfigError = 2
)

type exitError struct {
	code    int
	message string
	silent  bool
}

func (e exitError) Error() string {
	return e.message
}

func exitWith(code int, message string) error {
	return exitError{code: code, message: message}
}
