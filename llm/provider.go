package llm

import (
	"context"
	"errors"
	"fmt"
)

// Einheitliche Stop-Reasons über alle Provider hinweg.
const (
	StopReasonStop      = "STOP"
	StopReasonMaxTokens = "MAX_TOKENS"
	StopReasonSafety    = "SAFETY"
	StopReasonOther     = "OTHER"
)

// CompletionRequest ist die providerneutrale Anfrage.
type CompletionRequest struct {
	Model           string
	Prompt          string
	System          string
	Temperature     float64
	MaxOutputTokens int
}

// CompletionResult ist die providerneutrale Antwort.
type CompletionResult struct {
	Text       string
	StopReason string
	TokensIn   int
	TokensOut  int
}

// Provider ist das Interface, das jeder LLM-Adapter implementieren muss.
type Provider interface {
	// Complete führt einen einzelnen Completion-Aufruf aus.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "openai").
	Name() string

	// Model gibt das Default-Modell des Providers zurück.
	Model() string
}

// TransientError markiert Providerfehler, die einen Retry wert sind
// (Rate-Limits, 5xx, Netzwerk-Timeouts).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient meldet, ob err ein retrybarer Providerfehler ist.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
