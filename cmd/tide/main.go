// Package main is the entry point for the tide CLI.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code up through cobra.
// Code 1 means an unhealthy or escalation condition was detected; code 2
// means the check could not run at all (configuration or dependency error).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// configError wraps err as a configuration/dependency failure (exit code 2).
func configError(err error) error {
	return &exitError{code: 2, err: err}
}

// unhealthyError signals a detected unhealthy or escalation condition
// (exit code 1) without extra stderr output.
func unhealthyError() error {
	return &exitError{code: 1}
}
