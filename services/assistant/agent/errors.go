// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("agent: task not found")

	// ErrEmptyTask indicates a task with no text.
	ErrEmptyTask = errors.New("agent: empty task")

	// ErrTaskFinished indicates an operation on a task that already
	// reached a terminal state.
	ErrTaskFinished = errors.New("agent: task already finished")
)

// AgentError codes.
const (
	CodeCompletion = "completion_failed"
	CodeTool       = "tool_failed"
	CodeParse      = "parse_failed"
	CodeStall      = "stalled"
	CodePanic      = "iteration_panic"
)

// AgentError is a classified fault from the execution loop.
//
// Callers branch on Code and Recoverable: recoverable faults route the
// loop into error_recovery, unrecoverable ones end the run.
type AgentError struct {
	Code        string
	Message     string
	Recoverable bool
	Err         error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// newStallError builds the synthetic fault raised when the loop makes no
// progress for the stall window.
func newStallError() *AgentError {
	return &AgentError{
		Code:        CodeStall,
		Message:     "Execution stalled - no progress detected for 5 minutes",
		Recoverable: true,
	}
}
