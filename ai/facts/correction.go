package facts

import (
	"regexp"
	"strings"

	"github.com/lembraai/lembra/store"
)

// Correction phrases run before normal extraction. A correction updates an
// existing fact key; the store's versioning then records the new value as
// a new version instead of a parallel fact.
var correctionPatterns = []struct {
	pattern   *regexp.Regexp
	category  string
	factType  string
	attribute string
}{
	{regexp.MustCompile(`(?i)na verdade(?:,)? (?:o nome d(?:a minha|ela) esposa|minha esposa)(?:\s+se)?\s+(?:chama(?:-se)?|[ée])\s+(?:a )?` + namePattern), "relacionamento", "esposa", "nome"},
	{regexp.MustCompile(`(?i)na verdade(?:,)? (?:o nome d(?:o meu|ele) marido|meu marido)(?:\s+se)?\s+(?:chama(?:-se)?|[ée])\s+(?:o )?` + namePattern), "relacionamento", "marido", "nome"},
	{regexp.MustCompile(`(?i)(?:corrigindo|me enganei)[,:]?\s+(?:o nome (?:correto|certo) )?(?:da minha esposa|dela) [ée]\s+` + namePattern), "relacionamento", "esposa", "nome"},
	{regexp.MustCompile(`(?i)na verdade(?:,)? (?:eu )?trabalho n[ao] (?:empresa )?` + namePattern), "trabalho", "emprego", "empresa"},
}

// correctionMarkers gate the pass; without one of these the patterns are
// not even attempted.
var correctionMarkers = []string{"na verdade", "corrigindo", "me enganei", "quis dizer"}

func hasCorrectionMarker(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, marker := range correctionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// detectCorrections extracts corrected fact values from explicit
// correction phrasing. Confidence sits between the rule and LLM defaults
// since the phrasing is direct but the referent is pattern-resolved.
func detectCorrections(utterance string) []Candidate {
	if !hasCorrectionMarker(utterance) {
		return nil
	}
	var candidates []Candidate
	for _, p := range correctionPatterns {
		m := p.pattern.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Category:   p.category,
			FactType:   p.factType,
			Attribute:  p.attribute,
			Value:      strings.TrimSpace(m[1]),
			Confidence: correctionConfidence,
			Method:     store.ExtractionMethodRule,
		})
	}
	return candidates
}
