package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

const (
	// CategoryGeneral is chosen when no category keyword matches.
	CategoryGeneral = "general"

	minConfidence = 0.3
	minBytes      = 100
	minWords      = 20
	maxKeywords   = 10
)

type category struct {
	name     string
	keywords []string
}

// categories are scored in this order; the first of equal scores wins.
var categories = []category{
	{"programming", []string{
		"code", "programming", "algorithm", "function", "class", "variable",
		"debug", "test", "development", "software", "application", "framework",
	}},
	{"databases", []string{
		"database", "sql", "query", "table", "index", "schema",
		"nosql", "mongodb", "mysql", "postgresql", "data", "storage",
	}},
	{"web_development", []string{
		"html", "css", "javascript", "react", "vue", "angular",
		"frontend", "backend", "api", "rest", "http", "server",
	}},
	{"devops", []string{
		"docker", "kubernetes", "ci/cd", "deployment", "infrastructure", "cloud",
		"aws", "azure", "monitoring", "automation", "pipeline", "container",
	}},
	{"security", []string{
		"security", "encryption", "authentication", "authorization", "vulnerability", "ssl",
		"tls", "firewall", "penetration", "audit", "compliance", "privacy",
	}},
	{"ai_ml", []string{
		"machine learning", "artificial intelligence", "neural network", "deep learning", "model",
		"training", "prediction", "algorithm", "data science", "tensorflow", "pytorch", "nlp",
	}},
	{CategoryGeneral, []string{
		"general", "tutorial", "guide", "documentation", "reference", "example",
		"how-to", "tips", "best practices", "introduction", "overview", "basics",
	}},
}

type rule struct {
	label string
	terms []string
}

var purposeRules = []rule{
	{"standards", []string{"standard", "rule"}},
	{"methods", []string{"method", "approach"}},
	{"best_practices", []string{"best practice", "recommendation"}},
	{"troubleshooting", []string{"troubleshoot", "fix"}},
	{"reference", []string{"reference", "cheat"}},
	{"learning", []string{"tutorial", "guide"}},
}

var (
	scopeLanguages  = []string{"python", "javascript", "java", "rust", "go", "c++"}
	scopeFrameworks = []string{"react", "django", "flask", "vue", "angular"}
	scopeDomains    = []string{"frontend", "backend", "devops", "mobile"}
	scopeRoles      = []string{"developer", "architect", "manager", "qa"}

	advancedTerms = []string{"advanced", "expert", "complex", "enterprise", "scalable"}
	basicTerms    = []string{"basic", "beginner", "introduction", "getting started"}
)

// KeywordClassifier scores text against fixed keyword tables and derives a
// collection name of the form category_purpose_scope_difficulty.
type KeywordClassifier struct {
	tokenizer *Tokenizer
	now       func() time.Time
}

var _ port.Classifier = (*KeywordClassifier)(nil)

func NewKeywordClassifier(tokenizer *Tokenizer) *KeywordClassifier {
	if tokenizer == nil {
		tokenizer = NewTokenizer()
	}
	return &KeywordClassifier{tokenizer: tokenizer, now: time.Now}
}

func (c *KeywordClassifier) Classify(content, title string) (domain.Classification, error) {
	text := strings.ToLower(title) + " " + strings.ToLower(content)

	best := CategoryGeneral
	var bestScore float64
	for _, cat := range categories {
		var score float64
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				score += keywordWeight(kw)
			}
		}
		if score > bestScore {
			best, bestScore = cat.name, score
		}
	}

	confidence := 0.0
	if len(content) > 0 {
		confidence = bestScore / (float64(len(content)) / 100)
		if confidence > 1 {
			confidence = 1
		}
	}

	purpose := suggestPurpose(text)
	scope := suggestScope(text)
	difficulty := suggestDifficulty(text)
	keywords := c.topKeywords(text)
	passed := validate(text, best, confidence)

	metadata := domain.Metadata{
		"category":         best,
		"purpose":          purpose,
		"scope":            scope,
		"difficulty":       difficulty,
		"keywords":         keywords,
		"last_updated":     c.now().Format("2006-01-02"),
		"auto_classified":  true,
		"confidence_score": confidence,
		"version":          "1.0",
	}

	return domain.Classification{
		SuggestedCollection: fmt.Sprintf("%s_%s_%s_%s", best, purpose, scope, difficulty),
		Metadata:            metadata,
		Confidence:          confidence,
		Reasoning: fmt.Sprintf("Classified into category '%s' with %.2f%% confidence based on %d keywords across %d categories.",
			best, confidence*100, len(keywords), len(categories)),
		ValidationPassed: passed,
	}, nil
}

// keywordWeight favours longer, more specific keywords.
func keywordWeight(kw string) float64 {
	switch n := len(kw); {
	case n <= 3:
		return 0.5
	case n <= 6:
		return 1.0
	case n <= 10:
		return 1.5
	default:
		return 2.0
	}
}

func suggestPurpose(text string) string {
	for _, r := range purposeRules {
		if containsAny(text, r.terms) {
			return r.label
		}
	}
	return CategoryGeneral
}

func suggestScope(text string) string {
	if t, ok := firstContained(text, scopeLanguages); ok {
		return "lang_" + strings.ReplaceAll(t, "+", "p")
	}
	if t, ok := firstContained(text, scopeFrameworks); ok {
		return "framework_" + t
	}
	if t, ok := firstContained(text, scopeDomains); ok {
		return t
	}
	if t, ok := firstContained(text, scopeRoles); ok {
		return "role_" + t
	}
	return CategoryGeneral
}

func suggestDifficulty(text string) string {
	switch {
	case containsAny(text, advancedTerms):
		return "advanced"
	case containsAny(text, basicTerms):
		return "basic"
	default:
		return "intermediate"
	}
}

// validate rejects low-evidence, short, or off-topic classifications.
func validate(text, best string, confidence float64) bool {
	if confidence < minConfidence {
		return false
	}
	if len(text) < minBytes {
		return false
	}
	if len(strings.Fields(text)) < minWords {
		return false
	}
	for _, cat := range categories {
		if cat.name == best {
			_, ok := firstContained(text, cat.keywords)
			return ok
		}
	}
	return false
}

// topKeywords returns the most frequent tokens longer than three bytes,
// ties broken alphabetically.
func (c *KeywordClassifier) topKeywords(text string) []string {
	tf := c.tokenizer.TermFrequencies(text)
	words := make([]string, 0, len(tf))
	for w := range tf {
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if tf[words[i]] != tf[words[j]] {
			return tf[words[i]] > tf[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

func containsAny(text string, terms []string) bool {
	_, ok := firstContained(text, terms)
	return ok
}

func firstContained(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return t, true
		}
	}
	return "", false
}
