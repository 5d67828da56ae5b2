package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		text   string
		maxLen int
		want   string
	}{
		{"", 10, ""},
		{"curto", 10, "curto"},
		{"exatamente", 10, "exatamente"},
		{"texto longo demais", 11, "texto longo..."},
		{"qualquer", 0, ""},
		{"qualquer", -1, ""},
		{"ansião", 5, "ansiã..."},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Truncate(tt.text, tt.maxLen))
	}
}

func TestDetectTopics(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Minha esposa está bem", []string{"familia"}},
		{"O projeto no trabalho está difícil e minha filha está doente", []string{"familia", "trabalho"}},
		{"Estou com muita ansiedade por causa da dívida", []string{"dinheiro", "saude"}},
		{"bom dia", nil},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, DetectTopics(tt.text), "text: %s", tt.text)
	}
}

func TestDominantTopic(t *testing.T) {
	require.Equal(t, "trabalho", DominantTopic([]string{"chefe", "esposa"}))
	require.Equal(t, "familia", DominantTopic([]string{"filho"}))
	require.Equal(t, "geral", DominantTopic([]string{"xadrez"}))
	require.Equal(t, "geral", DominantTopic(nil))
}

func TestExtractNames(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Tenho dois filhos: João e Maria", []string{"João", "Maria"}},
		{"Minha esposa se chama Ana", []string{"Ana"}},
		{"Hoje estou cansado", nil},
		{"Ana falou com Ana de novo", []string{"Ana"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ExtractNames(tt.text), "text: %s", tt.text)
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("como está minha família hoje", 10)
	require.Equal(t, []string{"família"}, got)

	got = Keywords("trabalho projeto reunião chefe", 2)
	require.Len(t, got, 2)
	require.Equal(t, []string{"trabalho", "projeto"}, got)
}

func TestIntersects(t *testing.T) {
	require.True(t, Intersects([]string{"Ana", "João"}, []string{"ana"}))
	require.False(t, Intersects([]string{"Ana"}, []string{"Maria"}))
	require.False(t, Intersects(nil, []string{"Ana"}))
	require.False(t, Intersects([]string{"Ana"}, nil))
}
