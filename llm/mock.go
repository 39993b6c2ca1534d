package llm

import "context"

// MockProvider liefert vorgegebene Antworten. Für Tests und für lokale
// Umgebungen ohne API-Key (LLM_PROVIDER=mock).
type MockProvider struct {
	ProviderName string
	ModelName    string

	// Respond wird pro Aufruf ausgewertet; nil liefert den Prompt zurück.
	Respond func(req CompletionRequest) (CompletionResult, error)

	Calls []CompletionRequest
}

// NewMockProvider erstellt einen Mock mit Echo-Verhalten.
func NewMockProvider() *MockProvider {
	return &MockProvider{ProviderName: "mock", ModelName: "mock-1"}
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) Model() string {
	if m.ModelName == "" {
		return "mock-1"
	}
	return m.ModelName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResult{}, err
	}
	m.Calls = append(m.Calls, req)
	if m.Respond != nil {
		return m.Respond(req)
	}
	return CompletionResult{
		Text:       req.Prompt,
		StopReason: StopReasonStop,
		TokensIn:   len(req.Prompt) / 4,
		TokensOut:  len(req.Prompt) / 4,
	}, nil
}
