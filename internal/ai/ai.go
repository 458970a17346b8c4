// Package ai defines the contract of the external AI collaborator and the
// decorators that make it safe to call from the convergence service.
//
// Only the {result, confidence, signalId} shape of a response is relied upon;
// prompts and models belong to whatever sits behind the command.
package ai

import (
	"context"
	"errors"
)

// Tasks understood by the collaborator.
const (
	// TaskFieldBinding asks which candidate field feeds a plan metric.
	TaskFieldBinding = "field_binding"
)

// ErrNoAnswer is returned when the collaborator declines to pick a result.
var ErrNoAnswer = errors.New("ai service returned no result")

// Candidate is one option offered to the collaborator.
type Candidate struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Request is one question for the collaborator.
type Request struct {
	Context    map[string]string `json:"context,omitempty"`
	TenantID   string            `json:"tenantId"`
	Task       string            `json:"task"`
	Subject    string            `json:"subject"`
	Candidates []Candidate       `json:"candidates,omitempty"`
}

// Response is the collaborator's answer.
type Response struct {
	Result     string  `json:"result"`
	SignalID   string  `json:"signalId"`
	Confidence float64 `json:"confidence"`
}

// Service answers AI-assisted questions.
type Service interface {
	Suggest(ctx context.Context, req Request) (Response, error)
}
