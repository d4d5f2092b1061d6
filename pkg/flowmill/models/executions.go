package models

import (
	"time"
)

// StartExecutionRequest is the payload for triggering an execution of a
// registered definition. Input is merged into the variable scope under the
// reserved "input" key.
type StartExecutionRequest struct {
	Definition    string         `json:"definition"`
	Input         map[string]any `json:"input"`
	BusinessKey   string         `json:"businessKey"`
	ExecutorGroup string         `json:"executorGroup"`
}

// StartExecutionResponse is returned on successful start.
type StartExecutionResponse struct {
	ID string `json:"id"`
}

// SearchExecutionsRequest filters the execution search endpoint.
type SearchExecutionsRequest struct {
	ID            string `json:"id"`
	Definition    string `json:"definition"`
	ExecutorGroup string `json:"executorGroup"`
	BusinessKey   string `json:"businessKey"`
	State         string `json:"state"`
	Status        string `json:"status"`
	Limit         int64  `json:"limit"`
	Offset        int64  `json:"offset"`
}

// ExecutionApiResponse represents one execution over the API.
type ExecutionApiResponse struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Definition     string         `json:"definition"`
	CurrentState   string         `json:"currentState"`
	Variables      map[string]any `json:"variables,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	ErrorKind      string         `json:"errorKind,omitempty"`
	ErrorDetail    string         `json:"errorDetail,omitempty"`
	ExecutionCount int            `json:"executionCount"`
	Created        time.Time      `json:"created"`
	Modified       time.Time      `json:"modified"`
	Started        time.Time      `json:"started,omitempty"`
	Finished       time.Time      `json:"finished,omitempty"`
	ExecutorGroup  string         `json:"executorGroup"`
	BusinessKey    string         `json:"businessKey"`
}

// StateRecordApiResponse is one history entry over the API.
type StateRecordApiResponse struct {
	Seq         int            `json:"seq"`
	StateName   string         `json:"stateName"`
	EnteredAt   time.Time      `json:"enteredAt"`
	ExitedAt    time.Time      `json:"exitedAt"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	ErrorKind   string         `json:"errorKind,omitempty"`
	ErrorDetail string         `json:"errorDetail,omitempty"`
}

// RegisterDefinitionResponse is returned when a definition document is
// accepted.
type RegisterDefinitionResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}
