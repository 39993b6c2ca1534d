package llm

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/config"
	"content-forge/models"
	"content-forge/store"
)

func newTestGateway(t *testing.T, mock *MockProvider) (*Gateway, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.LLMResponseLog{}, &models.AccountSettings{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	cfg := &config.Config{
		LLMProvider:       "mock",
		LLMTimeoutSeconds: 5,
		LLMMaxRetries:     2,
		LLMTemperature:    0.7,
		LLMMaxTokens:      512,
	}
	return NewGateway(cfg, st, zap.NewNop(), mock), st
}

func countLogs(t *testing.T, st *store.Store) int64 {
	t.Helper()
	var n int64
	if err := st.DB().Model(&models.LLMResponseLog{}).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	mock := NewMockProvider()
	mock.Respond = func(req CompletionRequest) (CompletionResult, error) {
		attempts++
		if attempts < 3 {
			return CompletionResult{}, &TransientError{Err: errors.New("rate limited")}
		}
		return CompletionResult{Text: "fertig", StopReason: StopReasonStop, TokensOut: 3}, nil
	}
	gw, st := newTestGateway(t, mock)

	res, err := gw.Generate(context.Background(), GenerateInput{
		Category:  "blog_article",
		Prompt:    "schreib was",
		AccountID: 1,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "fertig" {
		t.Errorf("text = %q", res.Text)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Ein Log-Eintrag pro Versuch, auch für die Fehlversuche.
	if got := countLogs(t, st); got != 3 {
		t.Errorf("log rows = %d, want 3", got)
	}
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	mock := NewMockProvider()
	mock.Respond = func(req CompletionRequest) (CompletionResult, error) {
		return CompletionResult{}, &TransientError{Err: errors.New("still down")}
	}
	gw, st := newTestGateway(t, mock)

	_, err := gw.Generate(context.Background(), GenerateInput{
		Category:  "blog_article",
		Prompt:    "p",
		AccountID: 1,
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if got := countLogs(t, st); got != 3 {
		t.Errorf("log rows = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestGenerateDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	mock := NewMockProvider()
	mock.Respond = func(req CompletionRequest) (CompletionResult, error) {
		attempts++
		return CompletionResult{}, errors.New("invalid api key")
	}
	gw, st := newTestGateway(t, mock)

	_, err := gw.Generate(context.Background(), GenerateInput{
		Category:  "blog_article",
		Prompt:    "p",
		AccountID: 1,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if got := countLogs(t, st); got != 1 {
		t.Errorf("log rows = %d, want 1", got)
	}
}

func TestGenerateUsesAccountDefaultProvider(t *testing.T) {
	mock := NewMockProvider()
	gw, st := newTestGateway(t, mock)
	if err := st.DB().Create(&models.AccountSettings{
		AccountID:       7,
		DefaultProvider: "mock",
	}).Error; err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	res, err := gw.Generate(context.Background(), GenerateInput{
		Category:  "blog_article",
		Prompt:    "echo mich",
		AccountID: 7,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "echo mich" {
		t.Errorf("text = %q, want echo", res.Text)
	}
}

func TestGenerateUnknownProvider(t *testing.T) {
	mock := NewMockProvider()
	gw, _ := newTestGateway(t, mock)
	_, err := gw.Generate(context.Background(), GenerateInput{
		Category:  "blog_article",
		Prompt:    "p",
		AccountID: 1,
		Params:    Params{Provider: "gibtsnicht"},
	})
	if err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestIsTruncated(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		stopReason string
		want       bool
	}{
		{"clean stop", "Alles gut.", StopReasonStop, false},
		{"max tokens", "abgeschnitt", StopReasonMaxTokens, true},
		{"trailing ellipsis", "und dann...", StopReasonStop, true},
		{"open fence", "```json\n{\"a\": 1}", StopReasonStop, true},
		{"closed fence", "```json\n{}\n```", StopReasonStop, false},
		{"odd quote count", `er sagte "hallo`, StopReasonStop, true},
		{"balanced quotes", `er sagte "hallo"`, StopReasonStop, false},
	}
	for _, c := range cases {
		if got := IsTruncated(c.text, c.stopReason); got != c.want {
			t.Errorf("%s: IsTruncated = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestStripFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
		{"  plain text  ", "plain text"},
	}
	for _, c := range cases {
		if got := StripFence(c.in); got != c.want {
			t.Errorf("StripFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
