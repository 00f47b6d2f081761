// Package insights turns a finished investigation record into text a
// person can read: an LLM narration when a provider is configured, a
// fixed template otherwise, and a list of rule-based findings.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

const (
	providerAnthropic = "anthropic"
	providerOpenAI    = "openai"
	providerOllama    = "ollama"

	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	openAIURL        = "https://api.openai.com/v1/chat/completions"

	defaultMaxTokens = 1024
	requestTimeout   = 60 * time.Second
	maxErrorBody     = 512
)

var defaultModels = map[string]string{
	providerAnthropic: "claude-sonnet-4-20250514",
	providerOpenAI:    "gpt-4o",
	providerOllama:    "llama3.1",
}

// Generator narrates investigation records. The zero provider is valid
// and always uses the template.
type Generator struct {
	client    *http.Client
	provider  string
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	log       zerolog.Logger
}

// Option customises a Generator
type Option func(*Generator)

// WithBaseURL overrides the provider endpoint
func WithBaseURL(url string) Option {
	return func(g *Generator) { g.baseURL = url }
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.client = c }
}

// NewGenerator picks the first configured provider: Anthropic, then
// OpenAI, then Ollama.
func NewGenerator(cfg config.AIConfig, logger zerolog.Logger, opts ...Option) *Generator {
	g := &Generator{
		client:    &http.Client{Timeout: requestTimeout},
		maxTokens: cfg.MaxTokens,
		log:       logger.With().Str("component", "insights").Logger(),
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}

	switch {
	case cfg.AnthropicAPIKey != "":
		g.provider, g.apiKey, g.baseURL = providerAnthropic, cfg.AnthropicAPIKey, anthropicURL
	case cfg.OpenAIAPIKey != "":
		g.provider, g.apiKey, g.baseURL = providerOpenAI, cfg.OpenAIAPIKey, openAIURL
	case cfg.OllamaURL != "":
		g.provider, g.baseURL = providerOllama, strings.TrimRight(cfg.OllamaURL, "/")+"/api/chat"
	}
	g.model = cfg.Model
	if g.model == "" {
		g.model = defaultModels[g.provider]
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.provider != "" {
		g.log.Info().Str("provider", g.provider).Str("model", g.model).Msg("AI narration enabled")
	} else {
		g.log.Info().Msg("No AI provider configured, using template narration")
	}
	return g
}

// Enabled reports whether an LLM provider is configured
func (g *Generator) Enabled() bool { return g.provider != "" }

// Provider returns the configured provider name, or "template"
func (g *Generator) Provider() string {
	if g.provider == "" {
		return "template"
	}
	return g.provider
}

// Explain narrates rec. It never fails: any provider error falls back to
// the template narration.
func (g *Generator) Explain(ctx context.Context, rec *models.InvestigationRecord) string {
	if rec == nil {
		return ""
	}
	if !g.Enabled() {
		return Template(rec)
	}

	text, err := g.callLLM(ctx, prompt(rec))
	if err != nil {
		g.log.Warn().Err(err).Str("provider", g.provider).Msg("AI narration failed, using template")
		return Template(rec)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Template(rec)
	}
	return text
}

// Template is the deterministic narration used without an LLM
func Template(rec *models.InvestigationRecord) string {
	var b strings.Builder
	op := rec.Opinion
	chainName := rec.ChainInfo.DisplayName
	if chainName == "" {
		chainName = rec.Chain
	}

	fmt.Fprintf(&b, "%s wallet %s looks like %s (%s confidence). ",
		chainName, abbrev(rec.Address), archetypePhrase(op.Archetype), op.Confidence)
	fmt.Fprintf(&b, "It holds %s %s", orZero(rec.Balance.Amount), rec.ChainInfo.Symbol)
	if rec.Balance.USDValue > 0 {
		fmt.Fprintf(&b, " (about $%s)", formatUSD(rec.Balance.USDValue))
	}
	if n := len(rec.Tokens); n > 0 {
		fmt.Fprintf(&b, " plus %d token position(s)", n)
	}
	fmt.Fprintf(&b, ", for an estimated total of $%s. ", formatUSD(op.EstimatedValue))

	a := rec.Analysis
	if a.TransactionCount == 0 {
		b.WriteString("No transaction history was found. ")
	} else {
		fmt.Fprintf(&b, "Across %d transactions it received %s and sent %s %s, with %d unique counterparties. ",
			a.TransactionCount, trimFloat(a.TotalIncoming), trimFloat(a.TotalOutgoing), rec.ChainInfo.Symbol, a.UniqueCounterparties)
	}

	fmt.Fprintf(&b, "Risk is %s at %d/100", rec.Risk.Level, rec.Risk.Score)
	if len(rec.Risk.Factors) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(rec.Risk.Factors, "; "))
	}
	b.WriteString(".")

	if len(rec.Warnings) > 0 {
		fmt.Fprintf(&b, " Note: %s.", strings.Join(rec.Warnings, "; "))
	}
	return b.String()
}

func prompt(rec *models.InvestigationRecord) string {
	summary := map[string]any{
		"address":         rec.Address,
		"chain":           rec.Chain,
		"balance":         rec.Balance,
		"tokenCount":      len(rec.Tokens),
		"analysis":        compactAnalysis(rec.Analysis),
		"fundFlowSummary": rec.FundFlowSummary,
		"opinion":         rec.Opinion,
		"risk":            rec.Risk,
		"warnings":        rec.Warnings,
	}
	data, _ := json.MarshalIndent(summary, "", "  ")

	return fmt.Sprintf(`You are a blockchain forensic analyst writing for a compliance reviewer.

Summarise this wallet investigation in one short paragraph of plain prose.
State what kind of wallet it is, how much it holds, how it moves funds,
and why it received its risk score. Do not invent facts that are not in
the data. Do not use markdown.

INVESTIGATION:
%s`, data)
}

// compactAnalysis drops the bulky per-counterparty detail from the prompt
func compactAnalysis(a models.TransactionAnalysis) map[string]any {
	return map[string]any{
		"transactionCount":     a.TransactionCount,
		"totalIncoming":        a.TotalIncoming,
		"totalOutgoing":        a.TotalOutgoing,
		"netFlow":              a.NetFlow,
		"largestTransaction":   a.LargestTransaction,
		"averageTransaction":   a.AverageTransaction,
		"uniqueCounterparties": a.UniqueCounterparties,
		"transactionsPerDay":   a.TransactionsPerDay,
		"riskPatterns":         a.RiskPatterns,
	}
}

// ─── Providers ───

func (g *Generator) callLLM(ctx context.Context, prompt string) (string, error) {
	switch g.provider {
	case providerAnthropic:
		return g.callAnthropic(ctx, prompt)
	case providerOpenAI:
		return g.callOpenAI(ctx, prompt)
	case providerOllama:
		return g.callOllama(ctx, prompt)
	default:
		return "", fmt.Errorf("no AI provider configured")
	}
}

func (g *Generator) callAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":      g.model,
		"max_tokens": g.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         g.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := g.post(ctx, reqBody, headers, &result); err != nil {
		return "", err
	}
	if len(result.Content) > 0 {
		return result.Content[0].Text, nil
	}
	return "", fmt.Errorf("empty response from anthropic")
}

func (g *Generator) callOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":      g.model,
		"max_tokens": g.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + g.apiKey}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := g.post(ctx, reqBody, headers, &result); err != nil {
		return "", err
	}
	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("empty response from openai")
}

func (g *Generator) callOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := g.post(ctx, reqBody, nil, &result); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

func (g *Generator) post(ctx context.Context, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s API error %d: %s", g.provider, resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", g.provider, err)
	}
	return nil
}

// ─── Formatting ───

func archetypePhrase(a models.Archetype) string {
	switch a {
	case models.ArchetypeWhale:
		return "a whale"
	case models.ArchetypeActiveTrader:
		return "an active trader"
	case models.ArchetypeHodler:
		return "a long-term holder"
	case models.ArchetypeNewUser:
		return "a new user"
	case models.ArchetypeInactive:
		return "an inactive wallet"
	case models.ArchetypeExchange:
		return "an exchange user"
	case models.ArchetypeDeFi:
		return "a DeFi user"
	default:
		return "an unclassified wallet"
	}
}

func formatUSD(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.2fK", v/1_000)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
