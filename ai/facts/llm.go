package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lembraai/lembra/store"
)

const extractionPrompt = `Você é um extrator de fatos pessoais. Analise a frase do usuário e extraia fatos estruturados sobre a vida dele.

Responda APENAS com um array JSON, sem texto adicional. Cada fato tem o formato:
{"categoria": "...", "tipo": "...", "atributo": "...", "valor": "...", "confianca": 0.0}

Categorias válidas: relacionamento, trabalho, saude, preferencias, eventos.
Exemplos de tipo: esposa, marido, filho, amigo, emprego, profissao, condicao, hobby.
Atributos comuns: nome, empresa, cargo, data, descricao.
Confianca: perto de 1.0 para afirmações diretas, menor para inferências.

Quando a frase menciona mais de uma pessoa do mesmo tipo (ex.: dois filhos), retorne um fato por pessoa.

Frase: %q

JSON:`

// rawCandidate is the untyped LLM payload, validated before use.
type rawCandidate struct {
	Categoria string  `json:"categoria"`
	Tipo      string  `json:"tipo"`
	Atributo  string  `json:"atributo"`
	Valor     string  `json:"valor"`
	Confianca float32 `json:"confianca"`
}

// parseError marks a reachable-but-unparsable LLM response, which picks
// the ParseError result kind instead of ServiceError.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func isParseError(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

func (e *Extractor) extractLLM(ctx context.Context, utterance string) ([]Candidate, error) {
	response, err := e.llm.Complete(ctx, fmt.Sprintf(extractionPrompt, utterance), 512)
	if err != nil {
		return nil, fmt.Errorf("extraction completion failed: %w", err)
	}

	raw, err := parseCandidatePayload(response)
	if err != nil {
		return nil, &parseError{err: err}
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		c, ok := validateCandidate(r)
		if !ok {
			// Discard, never coerce. A single bad element does not fail
			// the batch.
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 && len(raw) > 0 {
		return nil, &parseError{err: fmt.Errorf("no candidate passed validation out of %d", len(raw))}
	}
	return candidates, nil
}

// parseCandidatePayload tolerates the usual LLM chrome around the JSON:
// markdown fences and leading prose before the first bracket.
func parseCandidatePayload(response string) ([]rawCandidate, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.IndexByte(cleaned, '[')
	end := strings.LastIndexByte(cleaned, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var raw []rawCandidate
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid candidate JSON: %w", err)
	}
	return raw, nil
}

func validateCandidate(r rawCandidate) (Candidate, bool) {
	category := strings.ToLower(strings.TrimSpace(r.Categoria))
	factType := strings.ToLower(strings.TrimSpace(r.Tipo))
	attribute := strings.ToLower(strings.TrimSpace(r.Atributo))
	value := strings.TrimSpace(r.Valor)

	if category == "" || factType == "" || attribute == "" || value == "" {
		return Candidate{}, false
	}
	if r.Confianca < 0 || r.Confianca > 1 {
		return Candidate{}, false
	}
	confidence := r.Confianca
	if confidence == 0 {
		confidence = 0.8
	}
	return Candidate{
		Category:   category,
		FactType:   factType,
		Attribute:  attribute,
		Value:      value,
		Confidence: confidence,
		Method:     store.ExtractionMethodLLM,
	}, true
}
