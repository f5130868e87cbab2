package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mirajehossain/txmigrate/internal/freshness"
	"github.com/mirajehossain/txmigrate/internal/migrator"
)

const (
	exitOK        = 0
	exitOrdering  = 2
	exitLocked    = 3
	exitFail      = 4
	exitPlanError = 5
	exitStale     = 6
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, migrator.ErrOrderingViolation):
		return exitOrdering
	case freshness.IsSignal(err):
		return exitStale
	case errors.Is(err, context.DeadlineExceeded):
		return exitLocked
	default:
		return exitFail
	}
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}
