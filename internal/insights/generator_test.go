package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

func sampleRecord() *models.InvestigationRecord {
	return &models.InvestigationRecord{
		ID:        "rec-1",
		Address:   "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		Chain:     models.ChainEthereum,
		ChainInfo: models.ChainInfo{Name: models.ChainEthereum, DisplayName: "Ethereum", Symbol: "ETH"},
		Balance:   models.Balance{Amount: "12.5", USDValue: 25_000},
		Analysis: models.TransactionAnalysis{
			TransactionCount:     40,
			TotalIncoming:        30,
			TotalOutgoing:        17.5,
			UniqueCounterparties: 9,
		},
		Opinion:     models.WalletOpinion{Archetype: models.ArchetypeActiveTrader, Confidence: "medium", EstimatedValue: 25_000},
		Risk:        models.RiskAssessment{Score: 15, Level: models.RiskLow, Factors: []string{"High transaction frequency"}},
		CompletedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTemplate(t *testing.T) {
	text := Template(sampleRecord())

	assert.Contains(t, text, "Ethereum wallet 0x742d...f44e looks like an active trader (medium confidence)")
	assert.Contains(t, text, "It holds 12.5 ETH (about $25.00K)")
	assert.Contains(t, text, "Across 40 transactions it received 30 and sent 17.5 ETH, with 9 unique counterparties")
	assert.Contains(t, text, "Risk is low at 15/100: High transaction frequency.")

	empty := sampleRecord()
	empty.Analysis = models.TransactionAnalysis{}
	empty.Warnings = []string{"token balances: partial data unavailable"}
	text = Template(empty)
	assert.Contains(t, text, "No transaction history was found")
	assert.Contains(t, text, "Note: token balances: partial data unavailable.")
}

func TestExplain_WithoutProviderUsesTemplate(t *testing.T) {
	g := NewGenerator(config.AIConfig{}, zerolog.Nop())
	assert.False(t, g.Enabled())
	assert.Equal(t, "template", g.Provider())

	rec := sampleRecord()
	assert.Equal(t, Template(rec), g.Explain(context.Background(), rec))
	assert.Empty(t, g.Explain(context.Background(), nil))
}

func TestExplain_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
		assert.Equal(t, 256.0, body["max_tokens"])

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"  An active trader with low risk.  "}]}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.AIConfig{AnthropicAPIKey: "sk-test", OpenAIAPIKey: "ignored", MaxTokens: 256}, zerolog.Nop(), WithBaseURL(srv.URL))
	assert.Equal(t, "anthropic", g.Provider())
	assert.Equal(t, "An active trader with low risk.", g.Explain(context.Background(), sampleRecord()))
}

func TestExplain_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"OpenAI narration"}}]}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.AIConfig{OpenAIAPIKey: "sk-openai", Model: "gpt-test"}, zerolog.Nop(), WithBaseURL(srv.URL))
	assert.Equal(t, "OpenAI narration", g.Explain(context.Background(), sampleRecord()))
}

func TestExplain_Ollama(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["stream"])
		_, _ = w.Write([]byte(`{"message":{"content":"Local narration"}}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.AIConfig{OllamaURL: srv.URL + "/"}, zerolog.Nop())
	assert.Equal(t, "Local narration", g.Explain(context.Background(), sampleRecord()))
	assert.Equal(t, "/api/chat", path)
}

func TestExplain_FallsBackOnProviderFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}},
		{"empty content", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"content":[]}`))
		}},
		{"blank text", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"content":[{"text":"   "}]}`))
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := NewGenerator(config.AIConfig{AnthropicAPIKey: "k"}, zerolog.Nop(), WithBaseURL(srv.URL))
			rec := sampleRecord()
			assert.Equal(t, Template(rec), g.Explain(context.Background(), rec))
		})
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{12.5, "12.50"},
		{1_500, "1.50K"},
		{2_340_000, "2.34M"},
	}
	for _, tt := range tests {
		if got := formatUSD(tt.in); got != tt.want {
			t.Errorf("formatUSD(%v) Expected: %s Got: %s", tt.in, tt.want, got)
		}
	}
}
