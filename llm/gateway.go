package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"content-forge/config"
	"content-forge/models"
	"content-forge/store"
)

var llmCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "llm_calls_total",
		Help: "Total number of LLM provider calls, by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

func init() {
	prometheus.MustRegister(llmCallsTotal)
}

// backoffSchedule sind die Wartezeiten vor dem 1. bzw. 2. Retry.
var backoffSchedule = []time.Duration{250 * time.Millisecond, 1 * time.Second}

// Params sind die per Template-Version konfigurierbaren Aufrufparameter.
type Params struct {
	Provider        string  `json:"provider,omitempty"`
	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

// GenerateInput bündelt alles für einen Gateway-Aufruf.
type GenerateInput struct {
	Category        string
	Prompt          string
	System          string
	Params          Params
	AccountID       uint
	GenArticleID    *uint
	PromptVersionID *uint
}

// GenerateResult ist das Ergebnis eines erfolgreichen Gateway-Aufrufs,
// nach Post-Processing (Fence-Stripping passiert NICHT hier, sondern erst
// beim Output-Parsing; der Text bleibt forensisch unverändert).
type GenerateResult struct {
	Text        string
	StopReason  string
	IsTruncated bool
	TokensOut   int
}

// Gateway ist der einzige Weg zu den LLM-Providern. Es wählt den Provider,
// wendet Parameter an, macht Retries bei transienten Fehlern und schreibt
// pro Versuch eine Zeile ins Response-Log. Content-Tabellen fasst es nie an.
type Gateway struct {
	cfg       *config.Config
	st        *store.Store
	log       *zap.Logger
	providers map[string]Provider
}

// NewGateway erstellt ein Gateway mit den registrierten Providern.
func NewGateway(cfg *config.Config, st *store.Store, log *zap.Logger, providers ...Provider) *Gateway {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Gateway{cfg: cfg, st: st, log: log, providers: m}
}

// Generate führt einen LLM-Aufruf mit bis zu zwei Retries bei transienten
// Fehlern aus (Backoff 250ms, 1s). Jeder Versuch landet im Response-Log.
func (g *Gateway) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	provider, err := g.resolveProvider(in)
	if err != nil {
		return nil, err
	}

	temperature := in.Params.Temperature
	if temperature == 0 {
		temperature = g.cfg.LLMTemperature
	}
	maxTokens := in.Params.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.LLMMaxTokens
	}
	model := in.Params.Model
	if model == "" {
		model = provider.Model()
	}

	req := CompletionRequest{
		Model:           model,
		Prompt:          in.Prompt,
		System:          in.System,
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	}

	var lastErr error
	maxAttempts := g.cfg.LLMMaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			idx := attempt - 1
			if idx >= len(backoffSchedule) {
				idx = len(backoffSchedule) - 1
			}
			select {
			case <-time.After(backoffSchedule[idx]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.LLMTimeout())
		result, err := provider.Complete(attemptCtx, req)
		cancel()

		if err != nil {
			llmCallsTotal.WithLabelValues(provider.Name(), "error").Inc()
			g.logAttempt(in, provider, req, CompletionResult{}, err)
			if IsTransient(err) && attempt < maxAttempts-1 {
				g.log.Warn("Transienter Providerfehler, Retry folgt",
					zap.String("provider", provider.Name()),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				lastErr = err
				continue
			}
			return nil, err
		}

		truncated := IsTruncated(result.Text, result.StopReason)
		llmCallsTotal.WithLabelValues(provider.Name(), "success").Inc()
		g.logAttempt(in, provider, req, result, nil)

		return &GenerateResult{
			Text:        result.Text,
			StopReason:  result.StopReason,
			IsTruncated: truncated,
			TokensOut:   result.TokensOut,
		}, nil
	}
	return nil, lastErr
}

// resolveProvider wählt den Provider: params.provider, sonst der
// Mandanten-Default aus account_settings, sonst der System-Default.
func (g *Gateway) resolveProvider(in GenerateInput) (Provider, error) {
	name := in.Params.Provider
	if name == "" {
		var settings models.AccountSettings
		if err := g.st.DB().Where("account_id = ?", in.AccountID).
			First(&settings).Error; err == nil && settings.DefaultProvider != "" {
			name = settings.DefaultProvider
		}
	}
	if name == "" {
		name = g.cfg.LLMProvider
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
	return p, nil
}

// logAttempt schreibt genau eine Response-Log-Zeile, erfolgreich oder
// nicht. Log-Fehler brechen den Aufruf nicht ab.
func (g *Gateway) logAttempt(in GenerateInput, p Provider, req CompletionRequest, res CompletionResult, callErr error) {
	row := models.LLMResponseLog{
		AccountID:       in.AccountID,
		GenArticleID:    in.GenArticleID,
		PromptVersionID: in.PromptVersionID,
		Category:        in.Category,
		Provider:        p.Name(),
		Model:           req.Model,
		Prompt:          req.Prompt,
		Response:        res.Text,
		StopReason:      res.StopReason,
		IsComplete:      callErr == nil && res.StopReason == StopReasonStop,
		IsTruncated:     callErr == nil && IsTruncated(res.Text, res.StopReason),
		TokensIn:        res.TokensIn,
		TokensOut:       res.TokensOut,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	if callErr != nil {
		row.Response = ""
		row.StopReason = StopReasonOther
	}
	if err := g.st.DB().Create(&row).Error; err != nil {
		g.log.Error("Response-Log konnte nicht geschrieben werden", zap.Error(err))
	}
}

// IsTruncated wendet die Abschneide-Heuristik an: stop_reason != STOP,
// oder die Antwort endet mitten im Token (offener Code-Fence, "..." am
// Ende, unbalancierte Anführungszeichen).
func IsTruncated(text, stopReason string) bool {
	if stopReason != StopReasonStop {
		return true
	}
	trimmed := strings.TrimRight(text, " \t\n\r")
	if strings.HasSuffix(trimmed, "...") {
		return true
	}
	// Ungerade Anzahl Fences heißt: der letzte wurde nie geschlossen.
	if strings.Count(trimmed, "```")%2 == 1 {
		return true
	}
	if strings.Count(trimmed, `"`)%2 == 1 {
		return true
	}
	return false
}

// StripFence entfernt genau einen umschließenden ```- oder ```json-Fence.
// Lebt bewusst nur hier im Gateway-Postprozessor und nicht an jedem
// Call-Site (siehe workflow.parseStepOutput, das hierüber geht).
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	rest := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		head := strings.TrimSpace(rest[:nl])
		// Nur Sprach-Tags wie "json" überspringen, kein Inhalt.
		if head == "" || len(head) <= 10 && !strings.ContainsAny(head, " {[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
