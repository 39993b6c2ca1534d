package templates

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Variable-Arten.
const (
	VarKindInput      = "input"       // bekannte Wurzeln: article, blog, account
	VarKindStepOutput = "step_output" // linkestes Segment benennt einen früheren Step
	VarKindCustom     = "custom"
)

// placeholderRe findet alle {{ ... }}-Vorkommen, auch ungültige, damit
// die Validierung fehlschlagen kann statt still zu ignorieren.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// identRe ist die einzige erlaubte Form eines Variablennamens.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._]*$`)

// inputRoots sind die well-known Wurzeln der Basis-Inputs.
var inputRoots = map[string]bool{
	"article": true,
	"blog":    true,
	"account": true,
}

// Variable beschreibt einen {{dotted.path}}-Platzhalter eines Prompts.
type Variable struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
}

// ExtractVariables scannt den Prompt nach {{ identifier(.identifier)* }}.
// stepNames sind die Namen früherer Workflow-Steps; ein Treffer mit Punkt,
// dessen linkestes Segment ein Step ist, wird als step_output klassifiziert.
// Duplikate kollabieren. Ungültige Bezeichner sind ein Validierungsfehler.
func ExtractVariables(prompt string, stepNames []string) ([]Variable, error) {
	steps := make(map[string]bool, len(stepNames))
	for _, s := range stepNames {
		steps[s] = true
	}

	seen := make(map[string]bool)
	var vars []Variable
	for _, m := range placeholderRe.FindAllStringSubmatch(prompt, -1) {
		name := m[1]
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("invalid variable name %q", name)
		}
		if strings.Contains(name, "..") || strings.HasSuffix(name, ".") {
			return nil, fmt.Errorf("invalid variable name %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		kind := VarKindCustom
		root := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			root = name[:i]
			if steps[root] {
				kind = VarKindStepOutput
			} else if inputRoots[root] {
				kind = VarKindInput
			}
		} else if inputRoots[root] {
			kind = VarKindInput
		}

		vars = append(vars, Variable{
			Name:        name,
			DisplayName: displayName(name),
			Kind:        kind,
		})
	}
	return vars, nil
}

// displayName macht aus "article.source_url" ein "Article Source Url".
func displayName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '.' || r == '_'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Substitute ersetzt alle {{ name }}-Vorkommen in text in einem einzigen
// Links-nach-rechts-Durchlauf. Objektwerte werden als kanonisches JSON mit
// zwei Leerzeichen Einrückung serialisiert; nil/fehlende Werte werden zum
// Sentinel [Missing: name] und einer Warnung.
func Substitute(text string, vars map[string]any) (string, []string) {
	var warnings []string
	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if !identRe.MatchString(name) {
			return match
		}
		v, ok := vars[name]
		if !ok || v == nil {
			warnings = append(warnings, fmt.Sprintf("variable %s has no value", name))
			return fmt.Sprintf("[Missing: %s]", name)
		}
		return renderValue(v)
	})
	return out, warnings
}

// renderValue serialisiert einen Variablenwert für die Prompt-Einsetzung.
func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64, float32, int, int64, int32, uint, uint64, uint32, bool:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
