/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errkind classifies errors into the closed taxonomy from the
// system's error handling design, so that HTTP handlers and the task
// queue adapter can dispatch on kind instead of matching strings.
package errkind

import (
	"github.com/go-faster/errors"
)

// Kind is one of the seven error kinds the pipeline ever returns.
type Kind string

const (
	Validation         Kind = "validation"
	NotFound           Kind = "not-found"
	Conflict           Kind = "conflict"
	TransientUpstream  Kind = "transient-upstream"
	FatalPipeline      Kind = "fatal-pipeline"
	CorruptOutput      Kind = "corrupt-output"
	Internal           Kind = "internal"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind, preserving the wrapped chain so
// errors.Is/As and go-faster/errors' stack frames still work.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.Wrap(err, msg)}
}

// New creates a fresh error already tagged with kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// Of returns the Kind attached to err, or Internal if none was ever
// attached (a programmer error somewhere failed to classify it).
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Internal
}

// Is reports whether err (or anything it wraps) was tagged with kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Retriable reports whether the task queue should retry the
// operation that produced err under the bounded-retry policy.
func Retriable(err error) bool {
	switch Of(err) {
	case TransientUpstream:
		return true
	default:
		return false
	}
}
