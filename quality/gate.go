package quality

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"content-forge/models"
)

// Gewichte der Composite-Score. Summe 1.0.
const (
	weightLength     = 0.7
	weightStructure  = 0.2
	weightUniqueness = 0.1
)

// Schwelle, ab der Content als bloße Titel-Wiederholung gilt.
const titleOnlySimilarity = 0.8

// Quality-Tiers.
const (
	TierExcellent = "excellent"
	TierGood      = "good"
	TierFair      = "fair"
	TierPoor      = "poor"
)

// Issue-Codes, die im Job-Result und auf dem Artikel landen.
const (
	IssueNoContent = "no_content"
	IssueTooShort  = "too_short"
	IssueTitleOnly = "title_only"
	IssueLowScore  = "low_score"
)

// Result ist das Gate-Ergebnis für einen Quellartikel.
type Result struct {
	Score    float64  `json:"score"`
	Tier     string   `json:"tier"`
	Eligible bool     `json:"eligible"`
	Issues   []string `json:"issues"`
}

// Gate bewertet Quellartikel vor der Generierung. Nicht geeignete Artikel
// erreichen das LLM-Gateway nie.
type Gate struct {
	log *zap.Logger
}

// NewGate erstellt ein neues Quality-Gate.
func NewGate(log *zap.Logger) *Gate {
	return &Gate{log: log}
}

// Evaluate bewertet den Artikel gegen die Mandantenregeln.
func (g *Gate) Evaluate(article *models.NewsArticle, settings *models.AccountSettings) Result {
	body := strings.TrimSpace(article.Body)
	var issues []string

	titleOnly := isTitleOnly(article.Title, body, settings.MinContentLength)
	score := compositeScore(article.Title, body)

	if body == "" {
		issues = append(issues, IssueNoContent)
	} else if len(body) < settings.MinContentLength {
		issues = append(issues, IssueTooShort)
	}
	if titleOnly {
		issues = append(issues, IssueTitleOnly)
	}
	if score < settings.MinQualityScore {
		issues = append(issues, IssueLowScore)
	}

	eligible := true
	if settings.BlockNoContent && body == "" {
		eligible = false
	}
	if len(body) > 0 && len(body) < settings.MinContentLength {
		eligible = false
	}
	if settings.BlockTitleOnly && titleOnly {
		eligible = false
	}
	if score < settings.MinQualityScore {
		eligible = false
	}

	res := Result{
		Score:    score,
		Tier:     tierFor(score),
		Eligible: eligible,
		Issues:   issues,
	}
	g.log.Debug("Quality-Gate ausgewertet",
		zap.Uint("article_id", article.ID),
		zap.Float64("score", res.Score),
		zap.String("tier", res.Tier),
		zap.Bool("eligible", res.Eligible),
		zap.Strings("issues", res.Issues))
	return res
}

// compositeScore ist die gewichtete Summe aus Länge, Struktur und
// Einzigartigkeit gegenüber dem Titel.
func compositeScore(title, body string) float64 {
	return weightLength*lengthScore(body) +
		weightStructure*structureScore(body) +
		weightUniqueness*uniquenessScore(title, body)
}

// lengthScore sättigt bei ~1500 Zeichen Fließtext.
func lengthScore(body string) float64 {
	if body == "" {
		return 0
	}
	s := float64(len(body)) / 1500.0
	if s > 1 {
		return 1
	}
	return s
}

// structureScore belohnt Absätze und vollständige Sätze.
func structureScore(body string) float64 {
	if body == "" {
		return 0
	}
	paragraphs := len(strings.Split(body, "\n\n"))
	sentences := strings.Count(body, ". ") + strings.Count(body, ".\n") + 1
	s := float64(paragraphs)*0.15 + float64(sentences)*0.03
	if s > 1 {
		return 1
	}
	return s
}

// uniquenessScore misst, wie stark sich der Body vom Titel unterscheidet.
func uniquenessScore(title, body string) float64 {
	if body == "" {
		return 0
	}
	head := body
	if len(head) > 2*len(title) && len(title) > 0 {
		head = head[:2*len(title)]
	}
	return 1 - similarityRatio(normalize(title), normalize(head))
}

// isTitleOnly erkennt Artikel, deren "Inhalt" nur den Titel wiederholt:
// kurzer Body UND Levenshtein-Ratio >= 0.8 gegen den Titel.
func isTitleOnly(title, body string, minContentLength int) bool {
	if body == "" || title == "" {
		return false
	}
	if len(body) >= 2*minContentLength {
		return false
	}
	return similarityRatio(normalize(title), normalize(body)) >= titleOnlySimilarity
}

// normalizer faltet Unicode (NFKC), entfernt Marks und senkt die Schrift,
// damit die Distanz typografische Unterschiede ignoriert.
var normalizer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)

func normalize(s string) string {
	out, _, err := transform.String(normalizer, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// similarityRatio ist 1 - dist/maxLen, auf Runen gerechnet.
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein mit zwei rollierenden Zeilen.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tierFor ordnet die Composite-Score einem Tier zu.
func tierFor(score float64) string {
	switch {
	case score >= 0.8:
		return TierExcellent
	case score >= 0.6:
		return TierGood
	case score >= 0.4:
		return TierFair
	default:
		return TierPoor
	}
}
