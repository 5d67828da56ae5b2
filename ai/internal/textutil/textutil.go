// Package textutil provides lightweight text analysis helpers shared by the
// extraction, enrichment and retrieval pipelines. All detection here is
// metadata-grade: cheap, deterministic and Portuguese-aware, never a
// substitute for the LLM paths.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Truncate truncates a string to a maximum rune length.
// Returns empty string if maxLen <= 0 to prevent slice bounds panic.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// topicKeywords maps coarse topics to the keywords that signal them.
// The taxonomy is shared by metadata tagging, query enrichment, reranking
// and consolidation clustering, so the labels must stay stable.
var topicKeywords = map[string][]string{
	"trabalho":       {"trabalho", "emprego", "empresa", "carreira", "chefe", "colega", "projeto", "reuniao", "reunião", "salario", "salário", "demissao", "demissão", "promocao", "promoção"},
	"familia":        {"esposa", "marido", "filho", "filha", "pai", "mae", "mãe", "irmao", "irmão", "irma", "irmã", "familia", "família", "avo", "avô", "avó"},
	"saude":          {"saude", "saúde", "doenca", "doença", "ansiedade", "depressao", "depressão", "insonia", "insônia", "terapia", "medico", "médico", "remedio", "remédio", "dor"},
	"relacionamento": {"amigo", "amiga", "namoro", "namorada", "namorado", "amor", "relacionamento", "casamento", "divorcio", "divórcio"},
	"lazer":          {"viagem", "hobby", "leitura", "livro", "musica", "música", "filme", "ferias", "férias", "esporte", "corrida"},
	"dinheiro":       {"dinheiro", "financeiro", "financeira", "conta", "divida", "dívida", "investimento", "aluguel", "gasto"},
}

// DetectTopics returns the topic labels whose keywords appear in text.
// Order is deterministic (alphabetical by label) so callers can compare.
func DetectTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, topic := range []string{"dinheiro", "familia", "lazer", "relacionamento", "saude", "trabalho"} {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}

// DominantTopic maps a keyword set to a single topic label, falling back
// to "geral" when nothing matches. Used when clustering memories for
// consolidation, where every item needs exactly one dominant topic.
func DominantTopic(keywords []string) string {
	joined := strings.ToLower(strings.Join(keywords, " "))
	if strings.TrimSpace(joined) == "" {
		return "geral"
	}
	for _, topic := range []string{"trabalho", "familia", "saude", "relacionamento", "lazer", "dinheiro"} {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(joined, kw) {
				return topic
			}
		}
	}
	return "geral"
}

// sentenceStarters are capitalized words that routinely begin Portuguese
// sentences and must not be mistaken for proper names.
var sentenceStarters = map[string]bool{
	"eu": true, "ela": true, "ele": true, "nos": true, "nós": true,
	"minha": true, "meu": true, "minhas": true, "meus": true,
	"o": true, "a": true, "os": true, "as": true, "um": true, "uma": true,
	"como": true, "quando": true, "onde": true, "quem": true, "por": true,
	"que": true, "hoje": true, "ontem": true, "amanha": true, "amanhã": true,
	"estou": true, "esta": true, "está": true, "sou": true, "tenho": true,
	"vou": true, "foi": true, "era": true, "sim": true, "nao": true, "não": true,
	"bom": true, "boa": true, "ola": true, "olá": true, "oi": true,
	"mas": true, "e": true, "ou": true, "se": true, "de": true, "do": true, "da": true,
	"em": true, "no": true, "na": true, "para": true, "com": true, "sem": true,
	"depois": true, "antes": true, "agora": true, "talvez": true, "obrigado": true,
	"obrigada": true, "preciso": true, "quero": true, "acho": true, "sinto": true,
}

// ExtractNames extracts candidate proper names from free text.
// A candidate is a capitalized word that is not a known sentence starter;
// consecutive candidates are NOT merged, matching the original behavior
// where "João e Maria" yields two names.
func ExtractNames(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	}) {
		if utf8.RuneCountInString(raw) < 2 {
			continue
		}
		first, _ := utf8.DecodeRuneInString(raw)
		if !unicode.IsUpper(first) {
			continue
		}
		lower := strings.ToLower(raw)
		if sentenceStarters[lower] {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		names = append(names, raw)
	}
	return names
}

// stopwords used when reducing an utterance to keywords.
var stopwords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true, "um": true, "uma": true,
	"de": true, "do": true, "da": true, "dos": true, "das": true,
	"em": true, "no": true, "na": true, "nos": true, "nas": true,
	"por": true, "para": true, "com": true, "sem": true, "sobre": true,
	"que": true, "quem": true, "qual": true, "quando": true, "onde": true,
	"e": true, "ou": true, "mas": true, "se": true, "eu": true, "ela": true,
	"ele": true, "meu": true, "minha": true, "seu": true, "sua": true,
	"estou": true, "esta": true, "está": true, "sou": true, "ser": true,
	"tem": true, "tenho": true, "ter": true, "foi": true, "era": true,
	"muito": true, "mais": true, "menos": true, "como": true, "isso": true,
	"esse": true, "essa": true, "este": true, "nao": true, "não": true,
	"sim": true, "ja": true, "já": true, "ainda": true, "hoje": true,
}

// Keywords reduces text to its non-stopword terms, lowercased, capped at max.
func Keywords(text string, max int) []string {
	if max <= 0 {
		max = 10
	}
	seen := map[string]bool{}
	var keywords []string
	for _, raw := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if utf8.RuneCountInString(raw) < 3 || stopwords[raw] || seen[raw] {
			continue
		}
		seen[raw] = true
		keywords = append(keywords, raw)
		if len(keywords) >= max {
			break
		}
	}
	return keywords
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Intersects reports whether two string sets share at least one element,
// case-insensitively.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = true
	}
	for _, s := range b {
		if set[strings.ToLower(s)] {
			return true
		}
	}
	return false
}
