// Package training holds the training configuration, its normalization and
// the error taxonomy shared by the dataset, preprocessing, model and trainer
// packages.
package training

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindConfiguration covers unknown dataset or model names and malformed
	// configuration values.
	KindConfiguration Kind = "ConfigurationError"
	// KindData covers missing files, missing target columns, null targets and
	// tables without feature columns.
	KindData Kind = "DataError"
	// KindTraining covers split and fit failures.
	KindTraining Kind = "TrainingError"
)

// Error is a labeled training failure. None of the kinds are retried.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Configurationf(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func Dataf(format string, args ...any) error {
	return &Error{Kind: KindData, Msg: fmt.Sprintf(format, args...)}
}

func Trainingf(format string, args ...any) error {
	return &Error{Kind: KindTraining, Msg: fmt.Sprintf(format, args...)}
}

// Wrap labels err with kind. An err that already carries a kind keeps it.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if msg == "" {
			return err
		}
		return &Error{Kind: existing.Kind, Msg: msg, Err: err}
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsConfiguration(err error) bool { return hasKind(err, KindConfiguration) }
func IsData(err error) bool          { return hasKind(err, KindData) }
func IsTraining(err error) bool      { return hasKind(err, KindTraining) }

func hasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
