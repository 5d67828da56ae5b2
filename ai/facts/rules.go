package facts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lembraai/lembra/ai/internal/textutil"
	"github.com/lembraai/lembra/store"
)

// rule is one deterministic extraction pattern. The first group must
// capture the fact value; confidence reflects how direct the phrasing is.
type rule struct {
	pattern    *regexp.Regexp
	category   string
	factType   string
	attribute  string
	confidence float32
}

// namePattern matches a capitalized proper name, including accented and
// compound forms like "Ana Clara".
const namePattern = `([A-ZÀ-Ü][a-zà-ü]+(?:\s+[A-ZÀ-Ü][a-zà-ü]+)*)`

// rules cover the known taxonomy: relationships, occupation, health,
// preferences, life events. Ordered; first match per key wins.
var rules = []rule{
	{regexp.MustCompile(`(?i)minha esposa(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "esposa", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)minha esposa (?:é|eh) (?:a )?` + namePattern), "relacionamento", "esposa", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)meu marido(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "marido", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)minha namorada(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "namorada", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)meu namorado(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "namorado", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)minha (?:filha|filhinha)(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "filha", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)meu (?:filho|filhinho)(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "filho", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)minha m(?:ã|a)e(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "mae", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)meu pai(?:\s+se)?\s+chama(?:-se)?\s+` + namePattern), "relacionamento", "pai", "nome", nameRuleConfidence},
	{regexp.MustCompile(`(?i)trabalho n[ao] (?:empresa )?` + namePattern), "trabalho", "emprego", "empresa", ruleConfidence},
	{regexp.MustCompile(`(?i)sou (engenheir[oa]|m[eé]dic[oa]|advogad[oa]|professor[a]?|programador[a]?|desenvolvedor[a]?|psic[oó]log[oa]|enfermeir[oa])\b`), "trabalho", "profissao", "nome", ruleConfidence},
	{regexp.MustCompile(`(?i)(?:tenho|sofro de|fui diagnosticad[oa] com) (ansiedade|depress[ãa]o|ins[ôo]nia|diabetes|hipertens[ãa]o|enxaqueca)`), "saude", "condicao", "nome", ruleConfidence},
	{regexp.MustCompile(`(?i)(?:gosto muito de|adoro|amo) ([a-zà-ü]+(?:\s+[a-zà-ü]+)?)`), "preferencias", "hobby", "descricao", ruleConfidence},
	{regexp.MustCompile(`(?i)(?:vou|irei) (?:me )?(casar|viajar|mudar de emprego|mudar de casa|me aposentar)`), "eventos", "planejado", "descricao", ruleConfidence},
}

// childrenPattern handles enumeration of children in one sentence, the
// canonical multi-entity case: "Tenho dois filhos: João e Maria".
var childrenPattern = regexp.MustCompile(`(?i)tenho (?:dois|duas|tr[êe]s|\d+) filh[oa]s?\s*[:,]?\s+(.+)`)

// applyRules runs the ordered deterministic patterns over the utterance.
func applyRules(utterance string) []Candidate {
	var candidates []Candidate

	if m := childrenPattern.FindStringSubmatch(utterance); m != nil {
		for i, name := range textutil.ExtractNames(m[1]) {
			candidates = append(candidates, Candidate{
				Category:   "relacionamento",
				FactType:   fmt.Sprintf("filho#%d", i+1),
				Attribute:  "nome",
				Value:      name,
				Confidence: nameRuleConfidence,
				Method:     store.ExtractionMethodRule,
			})
		}
	}

	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Category:   r.category,
			FactType:   r.factType,
			Attribute:  r.attribute,
			Value:      strings.TrimSpace(m[1]),
			Confidence: r.confidence,
			Method:     store.ExtractionMethodRule,
		})
	}

	return candidates
}

// disambiguate assigns distinct fact types to same-key candidates with
// different values, keyed by order of mention. "Tenho dois filhos: João e
// Maria" must become filho#1 and filho#2, never one row overwriting the
// other.
func disambiguate(candidates []Candidate) []Candidate {
	groups := map[string][]int{}
	for i, c := range candidates {
		key := c.Category + "\x00" + baseType(c.FactType) + "\x00" + c.Attribute
		groups[key] = append(groups[key], i)
	}
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		for n, i := range idxs {
			candidates[i].FactType = fmt.Sprintf("%s#%d", baseType(candidates[i].FactType), n+1)
		}
	}
	return candidates
}

// baseType strips a trailing "#n" discriminator.
func baseType(factType string) string {
	if idx := strings.LastIndexByte(factType, '#'); idx > 0 {
		return factType[:idx]
	}
	return factType
}
