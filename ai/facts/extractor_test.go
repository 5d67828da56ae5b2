package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai/core/llm"
	"github.com/lembraai/lembra/store"
)

// fakeLLM returns a canned response or error for every call.
type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestExtractEmptyUtterance(t *testing.T) {
	e := NewExtractor(nil, nil)
	result := e.Extract(context.Background(), "owner-1", "   ")
	require.Equal(t, ResultOk, result.Kind)
	require.Empty(t, result.Candidates)
}

func TestExtractRulePath(t *testing.T) {
	e := NewExtractor(nil, nil)

	result := e.Extract(context.Background(), "owner-1", "Minha esposa se chama Ana")
	require.Equal(t, ResultOk, result.Kind)
	require.Len(t, result.Candidates, 1)

	c := result.Candidates[0]
	require.Equal(t, "relacionamento", c.Category)
	require.Equal(t, "esposa", c.FactType)
	require.Equal(t, "nome", c.Attribute)
	require.Equal(t, "Ana", c.Value)
	require.Equal(t, nameRuleConfidence, c.Confidence)
	require.Equal(t, store.ExtractionMethodRule, c.Method)
}

// A named relationship statement is direct enough that even the rule
// path must clear the 0.8 line; weaker heuristics stay below it.
func TestRuleConfidenceTiers(t *testing.T) {
	e := NewExtractor(nil, nil)

	result := e.Extract(context.Background(), "owner-1", "Minha esposa se chama Ana")
	require.Len(t, result.Candidates, 1)
	require.GreaterOrEqual(t, result.Candidates[0].Confidence, float32(0.8))

	result = e.Extract(context.Background(), "owner-1", "Tenho dois filhos: João e Maria")
	require.Len(t, result.Candidates, 2)
	for _, c := range result.Candidates {
		require.GreaterOrEqual(t, c.Confidence, float32(0.8))
	}

	result = e.Extract(context.Background(), "owner-1", "gosto muito de corrida")
	require.Len(t, result.Candidates, 1)
	require.Equal(t, ruleConfidence, result.Candidates[0].Confidence)
}

func TestExtractIsIdempotent(t *testing.T) {
	e := NewExtractor(nil, nil)
	utterance := "Minha esposa se chama Ana e trabalho na Petrobras"

	first := e.Extract(context.Background(), "owner-1", utterance)
	second := e.Extract(context.Background(), "owner-1", utterance)
	require.Equal(t, first, second)
	require.Len(t, first.Candidates, 2)
}

func TestExtractDisambiguatesChildren(t *testing.T) {
	e := NewExtractor(nil, nil)

	result := e.Extract(context.Background(), "owner-1", "Tenho dois filhos: João e Maria")
	require.Len(t, result.Candidates, 2)

	types := map[string]string{}
	for _, c := range result.Candidates {
		require.Equal(t, "relacionamento", c.Category)
		require.Equal(t, "nome", c.Attribute)
		types[c.FactType] = c.Value
	}
	require.Equal(t, map[string]string{"filho#1": "João", "filho#2": "Maria"}, types)
}

func TestExtractCorrectionWinsOverExtraction(t *testing.T) {
	e := NewExtractor(nil, nil)

	result := e.Extract(context.Background(), "owner-1", "Na verdade minha esposa se chama Beatriz")
	require.Len(t, result.Candidates, 1)

	c := result.Candidates[0]
	require.Equal(t, "esposa", c.FactType)
	require.Equal(t, "Beatriz", c.Value)
	require.Equal(t, correctionConfidence, c.Confidence)
}

func TestExtractLLMPath(t *testing.T) {
	fake := &fakeLLM{response: `[{"categoria": "Relacionamento", "tipo": "Esposa", "atributo": "Nome", "valor": "Ana", "confianca": 0.95}]`}
	e := NewExtractor(fake, nil)

	result := e.Extract(context.Background(), "owner-1", "Minha esposa se chama Ana")
	require.Equal(t, ResultOk, result.Kind)
	require.Equal(t, 1, fake.calls)
	require.Len(t, result.Candidates, 1)

	c := result.Candidates[0]
	require.Equal(t, "relacionamento", c.Category)
	require.Equal(t, "esposa", c.FactType)
	require.Equal(t, "nome", c.Attribute)
	require.Equal(t, "Ana", c.Value)
	require.InDelta(t, 0.95, c.Confidence, 0.001)
	require.Equal(t, store.ExtractionMethodLLM, c.Method)
}

func TestExtractLLMFencedPayload(t *testing.T) {
	fake := &fakeLLM{response: "```json\n[{\"categoria\": \"trabalho\", \"tipo\": \"emprego\", \"atributo\": \"empresa\", \"valor\": \"Vale\", \"confianca\": 0.9}]\n```"}
	e := NewExtractor(fake, nil)

	result := e.Extract(context.Background(), "owner-1", "Trabalho na Vale")
	require.Equal(t, ResultOk, result.Kind)
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "Vale", result.Candidates[0].Value)
}

func TestExtractParseErrorFallsBackToRules(t *testing.T) {
	fake := &fakeLLM{response: "não consigo responder em JSON"}
	e := NewExtractor(fake, nil)

	result := e.Extract(context.Background(), "owner-1", "Minha esposa se chama Ana")
	require.Equal(t, ResultParseError, result.Kind)
	require.Error(t, result.Err)
	require.Len(t, result.Candidates, 1)
	require.Equal(t, store.ExtractionMethodRule, result.Candidates[0].Method)
	require.Equal(t, "Ana", result.Candidates[0].Value)
}

func TestExtractServiceErrorFallsBackToRules(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	e := NewExtractor(fake, nil)

	result := e.Extract(context.Background(), "owner-1", "Trabalho na Petrobras")
	require.Equal(t, ResultServiceError, result.Kind)
	require.Error(t, result.Err)
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "Petrobras", result.Candidates[0].Value)
}

func TestParseCandidatePayload(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		wantLen  int
	}{
		{"plain array", `[{"categoria": "saude", "tipo": "condicao", "atributo": "nome", "valor": "ansiedade"}]`, false, 1},
		{"leading prose", `Aqui estão os fatos: [{"categoria": "saude", "tipo": "condicao", "atributo": "nome", "valor": "ansiedade"}]`, false, 1},
		{"empty array", `[]`, false, 0},
		{"no array", `nenhum fato encontrado`, true, 0},
		{"broken json", `[{"categoria": }]`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := parseCandidatePayload(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, raw, tt.wantLen)
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	c, ok := validateCandidate(rawCandidate{Categoria: "trabalho", Tipo: "emprego", Atributo: "empresa", Valor: "Vale"})
	require.True(t, ok)
	require.InDelta(t, 0.8, c.Confidence, 0.001)

	_, ok = validateCandidate(rawCandidate{Categoria: "trabalho", Tipo: "", Atributo: "empresa", Valor: "Vale"})
	require.False(t, ok)

	_, ok = validateCandidate(rawCandidate{Categoria: "trabalho", Tipo: "emprego", Atributo: "empresa", Valor: "Vale", Confianca: 1.5})
	require.False(t, ok)
}
