package models

import "time"

// StepCondition wird gegen den Workflow-Kontext bzw. die bisherigen
// Step-Ergebnisse ausgewertet (dotted path). Alle Bedingungen eines Steps
// müssen halten (AND).
type StepCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // equals, not_equals, contains, not_contains, exists, not_exists
	Value    string `json:"value,omitempty"`
}

// WorkflowStep referenziert ein Template und definiert Reihenfolge,
// Bedingungen und Fehlerpolitik innerhalb eines Workflows.
type WorkflowStep struct {
	Name            string          `json:"name"`
	TemplateID      uint            `json:"template_id"`
	Order           int             `json:"order"`
	Conditions      []StepCondition `json:"conditions,omitempty"`
	ContinueOnError bool            `json:"continue_on_error"`
}

// Workflow ist eine geordnete Liste von Steps. AccountID nil bedeutet
// globaler Default. Invariante: Steps nach Order sortiert, Step-Namen
// innerhalb eines Workflows eindeutig.
type Workflow struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID *uint     `json:"account_id,omitempty" gorm:"index"`

	Name   string `json:"name" gorm:"not null"`
	Active bool   `json:"active" gorm:"default:true;index"`

	Steps              []WorkflowStep `json:"steps" gorm:"type:jsonb;serializer:json"`
	InputSources       []string       `json:"input_sources,omitempty" gorm:"type:jsonb;serializer:json"`
	OutputDestinations []string       `json:"output_destinations,omitempty" gorm:"type:jsonb;serializer:json"`
}

// TableName gibt explizit den Tabellennamen an.
func (Workflow) TableName() string {
	return "workflows"
}
