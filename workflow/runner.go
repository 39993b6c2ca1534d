package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/llm"
	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
)

// Interne Kontext-Schlüssel; werden vor der Rückgabe gestrippt.
const (
	ctxKeyWorkflow = "_workflow"
	ctxKeyAccount  = "_account"
)

// ErrWorkflowNotFound meldet, dass weder ein Mandanten- noch ein globaler
// Workflow gefunden wurde.
var ErrWorkflowNotFound = errors.New("workflow: not found")

// StepError benennt den fehlgeschlagenen Step beim Abbruch des Workflows.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepInput hält den tatsächlich gesendeten Prompt für die Nachvollzieh-
// barkeit im Step-Record.
type StepInput struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

// StepMetadata beschreibt, womit ein Step ausgeführt wurde.
type StepMetadata struct {
	ExecutedAt time.Time `json:"executed_at"`
	Template   string    `json:"template"`
	Category   string    `json:"category"`
	Provenance string    `json:"provenance"`
	VersionID  uint      `json:"version_id"`
}

// StepRecord ist das persistierbare Ergebnis eines einzelnen Steps.
type StepRecord struct {
	StepName   string         `json:"step_name"`
	TemplateID uint           `json:"template_id"`
	Input      StepInput      `json:"input"`
	Output     map[string]any `json:"output,omitempty"`
	Metadata   StepMetadata   `json:"metadata"`
	Error      string         `json:"error,omitempty"`
}

// RunResult ist die Rückgabe eines Workflow-Laufs.
type RunResult struct {
	WorkflowID uint                  `json:"workflow_id"`
	Success    bool                  `json:"success"`
	Results    map[string]StepRecord `json:"results"`
	Context    map[string]any        `json:"context"`
}

// cacheKey trägt die Mandanten-Identität mit in den Cache; ein Eintrag
// wird nie über Mandantengrenzen hinweg ausgeliefert.
type cacheKey struct {
	accountID uint
	id        uint
}

// Runner führt Workflows aus: Steps strikt in definierter Reihenfolge,
// ein Kontext pro Lauf, keine Intra-Workflow-Parallelität.
type Runner struct {
	st      *store.Store
	tpls    *templates.Store
	gateway *llm.Gateway
	log     *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*models.Workflow
}

// NewRunner erstellt einen neuen Workflow-Runner.
func NewRunner(st *store.Store, tpls *templates.Store, gateway *llm.Gateway, log *zap.Logger) *Runner {
	return &Runner{
		st:      st,
		tpls:    tpls,
		gateway: gateway,
		log:     log,
		cache:   make(map[cacheKey]*models.Workflow),
	}
}

// Run führt den Workflow für den Mandanten aus. inputs enthält per
// Konvention article, blog und die Mandanten-Identität.
func (r *Runner) Run(ctx context.Context, workflowID uint, inputs map[string]any, accountID uint, genArticleID *uint) (*RunResult, error) {
	wf, err := r.GetWorkflow(workflowID, accountID)
	if err != nil {
		return nil, err
	}
	return r.RunDefinition(ctx, wf, inputs, accountID, genArticleID)
}

// RunDefinition führt eine bereits geladene Workflow-Definition aus.
// Der implizite Default-Workflow der Content-Generierung geht hierüber.
func (r *Runner) RunDefinition(ctx context.Context, wf *models.Workflow, inputs map[string]any, accountID uint, genArticleID *uint) (*RunResult, error) {
	if err := ValidateSteps(wf.Steps); err != nil {
		return nil, err
	}
	steps := make([]models.WorkflowStep, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	runCtx := make(map[string]any, len(inputs)+2)
	for k, v := range inputs {
		runCtx[k] = v
	}
	runCtx[ctxKeyWorkflow] = wf.Name
	runCtx[ctxKeyAccount] = accountID

	results := make(map[string]StepRecord, len(steps))
	log := r.log.With(zap.Uint("workflow_id", wf.ID), zap.Uint("account_id", accountID))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !r.conditionsHold(step, runCtx, results, log) {
			log.Info("Step übersprungen, Bedingungen nicht erfüllt", zap.String("step", step.Name))
			continue
		}

		record, err := r.executeStep(ctx, step, runCtx, results, accountID, genArticleID)
		if err != nil {
			if step.ContinueOnError {
				log.Warn("Step fehlgeschlagen, continue_on_error aktiv",
					zap.String("step", step.Name), zap.Error(err))
				failed := StepRecord{
					StepName:   step.Name,
					TemplateID: step.TemplateID,
					Error:      err.Error(),
					Metadata:   StepMetadata{ExecutedAt: time.Now().UTC()},
				}
				results[step.Name] = failed
				runCtx[step.Name] = map[string]any{"error": err.Error()}
				continue
			}
			return nil, &StepError{Step: step.Name, Err: err}
		}

		results[step.Name] = *record
		runCtx[step.Name] = record.Output
	}

	delete(runCtx, ctxKeyWorkflow)
	delete(runCtx, ctxKeyAccount)
	return &RunResult{
		WorkflowID: wf.ID,
		Success:    true,
		Results:    results,
		Context:    runCtx,
	}, nil
}

// executeStep: Variablen vorbereiten, Template auflösen, Prompt bauen,
// LLM aufrufen, Output parsen. Innerhalb des Steps geht der LLM-Aufruf
// der Persistenz voran.
func (r *Runner) executeStep(ctx context.Context, step models.WorkflowStep, runCtx map[string]any, results map[string]StepRecord, accountID uint, genArticleID *uint) (*StepRecord, error) {
	vars := buildVariableMap(runCtx, results)

	resolved, err := r.tpls.Get(step.TemplateID, accountID)
	if err != nil {
		return nil, err
	}

	prompt, warnings := templates.Substitute(resolved.Version.Prompt, vars)
	system, sysWarnings := templates.Substitute(resolved.Version.SystemMessage, vars)
	for _, w := range append(warnings, sysWarnings...) {
		r.log.Warn("Variable ohne Wert bei Substitution",
			zap.String("step", step.Name), zap.String("warning", w))
	}

	var params llm.Params
	if err := store.UnmarshalColumn(resolved.Version.Parameters, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters on version %d: %w", resolved.Version.ID, err)
	}

	versionID := resolved.Version.ID
	gen, err := r.gateway.Generate(ctx, llm.GenerateInput{
		Category:        resolved.Template.Category,
		Prompt:          prompt,
		System:          system,
		Params:          params,
		AccountID:       accountID,
		GenArticleID:    genArticleID,
		PromptVersionID: &versionID,
	})
	if err != nil {
		return nil, err
	}

	output := parseStepOutput(gen.Text, resolved)

	return &StepRecord{
		StepName:   step.Name,
		TemplateID: step.TemplateID,
		Input:      StepInput{Prompt: prompt, System: system},
		Output:     output,
		Metadata: StepMetadata{
			ExecutedAt: time.Now().UTC(),
			Template:   resolved.Template.Name,
			Category:   resolved.Template.Category,
			Provenance: resolved.Provenance,
			VersionID:  resolved.Version.ID,
		},
	}, nil
}

// conditionsHold wertet alle Step-Bedingungen aus (AND). Unbekannte
// Operatoren zählen als erfüllt, mit Warnung.
func (r *Runner) conditionsHold(step models.WorkflowStep, runCtx map[string]any, results map[string]StepRecord, log *zap.Logger) bool {
	for _, cond := range step.Conditions {
		val, found := resolvePath(runCtx, cond.Field)
		if !found {
			if rec, ok := results[pathRoot(cond.Field)]; ok {
				val, found = resolvePath(map[string]any{pathRoot(cond.Field): rec.Output}, cond.Field)
			}
		}
		if !evalCondition(cond, val, found, log) {
			return false
		}
	}
	return true
}

// evalCondition wendet einen einzelnen Operator an.
func evalCondition(cond models.StepCondition, val any, found bool, log *zap.Logger) bool {
	switch cond.Operator {
	case "exists":
		return found && val != nil
	case "not_exists":
		return !found || val == nil
	case "equals":
		return found && stringify(val) == cond.Value
	case "not_equals":
		return !found || stringify(val) != cond.Value
	case "contains":
		return found && strings.Contains(stringify(val), cond.Value)
	case "not_contains":
		return !found || !strings.Contains(stringify(val), cond.Value)
	default:
		log.Warn("Unbekannter Bedingungs-Operator, werte als erfüllt",
			zap.String("operator", cond.Operator), zap.String("field", cond.Field))
		return true
	}
}

// buildVariableMap baut die flache Variablen-Map für die Substitution:
// Basis-Inputs eine Ebene tief (article.title, blog.id, account.id) plus
// s.<field> für jeden Top-Level-Output jedes abgeschlossenen Steps.
func buildVariableMap(runCtx map[string]any, results map[string]StepRecord) map[string]any {
	vars := make(map[string]any)
	for key, v := range runCtx {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			for f, fv := range m {
				vars[key+"."+f] = fv
			}
			continue
		}
		vars[key] = v
	}
	for name, rec := range results {
		if rec.Error != "" {
			continue
		}
		for f, fv := range rec.Output {
			vars[name+"."+f] = fv
		}
	}
	return vars
}

// parseStepOutput projiziert den LLM-Text gegen das Output-Schema des
// Templates. Ohne Schema: generischer Content-Umschlag.
func parseStepOutput(text string, resolved *templates.Resolved) map[string]any {
	fields := schemaFields(resolved)
	if len(fields) == 0 {
		return map[string]any{
			"content":     text,
			"type":        resolved.Template.Category,
			"generatedAt": time.Now().UTC().Format(time.RFC3339),
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(llm.StripFence(text)), &parsed); err != nil {
		return map[string]any{"text": text, "parsed": false}
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := parsed[f]; ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return map[string]any{"text": text, "parsed": false}
	}
	out["parsed"] = true
	return out
}

// schemaFields liest die deklarierten Output-Felder aus io_schemas:
// {"output": {"fields": [{"name": "..."}, ...]}}.
func schemaFields(resolved *templates.Resolved) []string {
	var schemas struct {
		Output struct {
			Fields []struct {
				Name string `json:"name"`
			} `json:"fields"`
		} `json:"output"`
	}
	if err := store.UnmarshalColumn(resolved.Template.IOSchemas, &schemas); err != nil {
		return nil
	}
	names := make([]string, 0, len(schemas.Output.Fields))
	for _, f := range schemas.Output.Fields {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return names
}

// GetWorkflow lädt einen Workflow, mandantenbevorzugt mit Fallthrough auf
// globale Definitionen, mit prozess-lokalem Cache.
func (r *Runner) GetWorkflow(id uint, accountID uint) (*models.Workflow, error) {
	key := cacheKey{accountID, id}
	r.mu.RLock()
	if wf, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return wf, nil
	}
	r.mu.RUnlock()

	var wf models.Workflow
	err := r.st.DB().Where("id = ? AND account_id = ?", id, accountID).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = r.st.DB().Where("id = ? AND account_id IS NULL", id).First(&wf).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = &wf
	r.mu.Unlock()
	return &wf, nil
}

// InvalidateWorkflow wirft die Cache-Einträge des Workflows weg, über
// alle Mandanten. Muss bei jeder Workflow-Mutation in diesem Prozess
// gerufen werden.
func (r *Runner) InvalidateWorkflow(id uint) {
	r.mu.Lock()
	for k := range r.cache {
		if k.id == id {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// ValidateSteps prüft die Workflow-Invarianten: eindeutige Step-Namen,
// gesetzte Template-Referenzen, bekannte Step-Referenzen in Bedingungen.
func ValidateSteps(steps []models.WorkflowStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("workflow: at least one step required")
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("workflow: step with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if s.TemplateID == 0 {
			return fmt.Errorf("workflow: step %q has no template", s.Name)
		}
	}
	inputRootsOK := map[string]bool{"article": true, "blog": true, "account": true}
	for _, s := range steps {
		for _, c := range s.Conditions {
			root := pathRoot(c.Field)
			if !inputRootsOK[root] && !seen[root] {
				return fmt.Errorf("workflow: step %q condition references unknown step %q", s.Name, root)
			}
		}
	}
	return nil
}

// resolvePath folgt einem dotted path durch verschachtelte Maps.
func resolvePath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func pathRoot(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
