package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/config"
	"content-forge/llm"
	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
)

type runnerFixture struct {
	runner *Runner
	tpls   *templates.Store
	mock   *llm.MockProvider
	st     *store.Store
}

func newFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PromptTemplate{},
		&models.PromptVersion{},
		&models.Workflow{},
		&models.LLMResponseLog{},
		&models.AccountSettings{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	log := zap.NewNop()
	tpls := templates.NewStore(st, log)
	mock := llm.NewMockProvider()
	cfg := &config.Config{
		LLMProvider:       "mock",
		LLMTimeoutSeconds: 5,
		LLMMaxRetries:     0,
		LLMTemperature:    0.7,
		LLMMaxTokens:      512,
	}
	gateway := llm.NewGateway(cfg, st, log, mock)
	return &runnerFixture{
		runner: NewRunner(st, tpls, gateway, log),
		tpls:   tpls,
		mock:   mock,
		st:     st,
	}
}

func (f *runnerFixture) createTemplate(t *testing.T, name, category, prompt string, outputFields []string) uint {
	t.Helper()
	var schemas map[string]any
	if len(outputFields) > 0 {
		fields := make([]map[string]any, 0, len(outputFields))
		for _, n := range outputFields {
			fields = append(fields, map[string]any{"name": n})
		}
		schemas = map[string]any{"output": map[string]any{"fields": fields}}
	}
	acc := uint(1)
	tpl, err := f.tpls.Create(templates.CreateInput{
		Name:      name,
		Category:  category,
		Prompt:    prompt,
		IOSchemas: schemas,
	}, &acc)
	if err != nil {
		t.Fatalf("create template %s: %v", name, err)
	}
	return tpl.ID
}

func baseInputs() map[string]any {
	return map[string]any{
		"article": map[string]any{
			"id":    uint(1),
			"title": "Testmeldung",
			"body":  "Es ist etwas passiert.",
		},
		"blog":    map[string]any{"id": uint(2)},
		"account": map[string]any{"id": uint(1)},
	}
}

func TestRunChainsStepOutputs(t *testing.T) {
	f := newFixture(t)
	blogID := f.createTemplate(t, "Blog", "blog_article", "Schreibe über {{article.title}}", nil)
	postID := f.createTemplate(t, "Post", "social_post_twitter", "Kürze: {{write_blog.content}}", nil)

	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		if strings.Contains(req.Prompt, "Schreibe über") {
			return llm.CompletionResult{Text: "Langform-Inhalt", StopReason: llm.StopReasonStop}, nil
		}
		if !strings.Contains(req.Prompt, "Langform-Inhalt") {
			t.Errorf("second step did not receive first step output: %q", req.Prompt)
		}
		return llm.CompletionResult{Text: "Kurzform", StopReason: llm.StopReasonStop}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "write_blog", TemplateID: blogID, Order: 0},
		{Name: "write_post", TemplateID: postID, Order: 1},
	}}
	res, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	if err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	if !res.Success {
		t.Error("run not successful")
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if res.Results["write_blog"].Output["content"] != "Langform-Inhalt" {
		t.Errorf("blog output = %v", res.Results["write_blog"].Output)
	}
	// Interne Kontext-Schlüssel sind gestrippt.
	for k := range res.Context {
		if strings.HasPrefix(k, "_") {
			t.Errorf("internal key %q leaked into context", k)
		}
	}
}

func TestRunRespectsStepOrderField(t *testing.T) {
	f := newFixture(t)
	id := f.createTemplate(t, "T", "blog_article", "Prompt ohne Variablen", nil)

	var order []string
	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		order = append(order, req.Prompt)
		return llm.CompletionResult{Text: "x", StopReason: llm.StopReasonStop}, nil
	}

	// Steps absichtlich verdreht angegeben; Order entscheidet.
	secondID := f.createTemplate(t, "T2", "social_post_twitter", "Zweiter Prompt", nil)
	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "later", TemplateID: secondID, Order: 5},
		{Name: "earlier", TemplateID: id, Order: 1},
	}}
	if _, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil); err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	if len(order) != 2 || order[0] != "Prompt ohne Variablen" {
		t.Errorf("execution order wrong: %v", order)
	}
}

func TestRunSkipsStepOnCondition(t *testing.T) {
	f := newFixture(t)
	id := f.createTemplate(t, "T", "blog_article", "Prompt", nil)

	calls := 0
	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		calls++
		return llm.CompletionResult{Text: "x", StopReason: llm.StopReasonStop}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "only_if_summary", TemplateID: id, Order: 0, Conditions: []models.StepCondition{
			{Field: "article.summary", Operator: "exists"},
		}},
		{Name: "always", TemplateID: id, Order: 1},
	}}
	res, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	if err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	if calls != 1 {
		t.Errorf("LLM calls = %d, want 1 (first step skipped)", calls)
	}
	if _, ok := res.Results["only_if_summary"]; ok {
		t.Error("skipped step must not appear in results")
	}
	if _, ok := res.Results["always"]; !ok {
		t.Error("unconditional step missing from results")
	}
}

func TestRunContinueOnError(t *testing.T) {
	f := newFixture(t)
	goodID := f.createTemplate(t, "Good", "blog_article", "guter Prompt", nil)
	badID := f.createTemplate(t, "Bad", "social_post_twitter", "schlechter Prompt", nil)

	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		if strings.Contains(req.Prompt, "schlechter") {
			return llm.CompletionResult{}, errors.New("provider exploded")
		}
		return llm.CompletionResult{Text: "ok", StopReason: llm.StopReasonStop}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "first", TemplateID: goodID, Order: 0},
		{Name: "flaky", TemplateID: badID, Order: 1, ContinueOnError: true},
		{Name: "last", TemplateID: goodID, Order: 2},
	}}
	res, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	if err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	if res.Results["flaky"].Error == "" {
		t.Error("flaky step error not recorded")
	}
	if _, ok := res.Results["last"]; !ok {
		t.Error("step after continue_on_error failure did not run")
	}
}

func TestRunAbortsWithoutContinueOnError(t *testing.T) {
	f := newFixture(t)
	badID := f.createTemplate(t, "Bad", "blog_article", "kaputt", nil)
	goodID := f.createTemplate(t, "Good", "social_post_twitter", "gut", nil)

	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		if strings.Contains(req.Prompt, "kaputt") {
			return llm.CompletionResult{}, errors.New("provider exploded")
		}
		return llm.CompletionResult{Text: "ok", StopReason: llm.StopReasonStop}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "boom", TemplateID: badID, Order: 0},
		{Name: "never", TemplateID: goodID, Order: 1},
	}}
	_, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want StepError", err)
	}
	if stepErr.Step != "boom" {
		t.Errorf("failed step = %s, want boom", stepErr.Step)
	}
}

func TestRunParsesSchemaOutputWithFence(t *testing.T) {
	f := newFixture(t)
	id := f.createTemplate(t, "Blog", "blog_article", "Prompt", []string{"title", "content"})

	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{
			Text:       "```json\n{\"title\": \"T\", \"content\": \"C\", \"extra\": \"weg\"}\n```",
			StopReason: llm.StopReasonStop,
		}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "s", TemplateID: id, Order: 0},
	}}
	res, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	if err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	out := res.Results["s"].Output
	if out["title"] != "T" || out["content"] != "C" {
		t.Errorf("output = %v", out)
	}
	if _, ok := out["extra"]; ok {
		t.Error("undeclared field not projected away")
	}
	if out["parsed"] != true {
		t.Error("parsed flag missing")
	}
}

func TestRunFallsBackOnUnparseableOutput(t *testing.T) {
	f := newFixture(t)
	id := f.createTemplate(t, "Blog", "blog_article", "Prompt", []string{"title"})

	f.mock.Respond = func(req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Text: "kein json hier", StopReason: llm.StopReasonStop}, nil
	}

	wf := &models.Workflow{Name: "test", Steps: []models.WorkflowStep{
		{Name: "s", TemplateID: id, Order: 0},
	}}
	res, err := f.runner.RunDefinition(context.Background(), wf, baseInputs(), 1, nil)
	if err != nil {
		t.Fatalf("RunDefinition: %v", err)
	}
	out := res.Results["s"].Output
	if out["parsed"] != false || out["text"] != "kein json hier" {
		t.Errorf("fallback output = %v", out)
	}
}

func TestGetWorkflowIsTenantScopedAfterCacheWarm(t *testing.T) {
	f := newFixture(t)
	acc := uint(1)
	wf := models.Workflow{AccountID: &acc, Name: "privat", Active: true, Steps: []models.WorkflowStep{
		{Name: "s", TemplateID: 1, Order: 0},
	}}
	if err := f.st.DB().Create(&wf).Error; err != nil {
		t.Fatalf("seed workflow: %v", err)
	}

	// Mandant 1 wärmt den Cache.
	if _, err := f.runner.GetWorkflow(wf.ID, 1); err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	// Mandant 2 bekommt die fremde Definition nicht aus dem Cache.
	if _, err := f.runner.GetWorkflow(wf.ID, 2); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("GetWorkflow as tenant 2 = %v, want ErrWorkflowNotFound", err)
	}
}

func TestValidateSteps(t *testing.T) {
	if err := ValidateSteps(nil); err == nil {
		t.Error("empty steps must fail")
	}
	if err := ValidateSteps([]models.WorkflowStep{
		{Name: "a", TemplateID: 1}, {Name: "a", TemplateID: 2},
	}); err == nil {
		t.Error("duplicate names must fail")
	}
	if err := ValidateSteps([]models.WorkflowStep{
		{Name: "a", TemplateID: 0},
	}); err == nil {
		t.Error("missing template must fail")
	}
	if err := ValidateSteps([]models.WorkflowStep{
		{Name: "a", TemplateID: 1, Conditions: []models.StepCondition{
			{Field: "unbekannt.feld", Operator: "exists"},
		}},
	}); err == nil {
		t.Error("condition on unknown root must fail")
	}
	if err := ValidateSteps([]models.WorkflowStep{
		{Name: "a", TemplateID: 1},
		{Name: "b", TemplateID: 2, Conditions: []models.StepCondition{
			{Field: "a.content", Operator: "exists"},
		}},
	}); err != nil {
		t.Errorf("valid steps rejected: %v", err)
	}
}

func TestEvalConditionOperators(t *testing.T) {
	log := zap.NewNop()
	cases := []struct {
		op    string
		val   any
		found bool
		want  bool
	}{
		{"exists", "x", true, true},
		{"exists", nil, false, false},
		{"not_exists", nil, false, true},
		{"equals", "ja", true, true},
		{"not_equals", "nein", true, true},
		{"contains", "hallo ja welt", true, true},
		{"not_contains", "hallo welt", true, true},
		{"totally_unknown", nil, false, true},
	}
	for _, c := range cases {
		cond := models.StepCondition{Field: "f", Operator: c.op, Value: "ja"}
		if got := evalCondition(cond, c.val, c.found, log); got != c.want {
			t.Errorf("evalCondition(%s, %v) = %v, want %v", c.op, c.val, got, c.want)
		}
	}
}
