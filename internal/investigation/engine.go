// Package investigation orchestrates a single wallet investigation:
// detect the chain, validate the address, fetch balance, history and
// tokens, analyse, score, and persist the record.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/wallet-investigator/internal/analysis"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/detect"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Step names one state of the investigation state machine
type Step string

const (
	StepStarted      Step = "started"
	StepDetecting    Step = "detecting"
	StepValidating   Step = "validating"
	StepFetchingData Step = "fetching_data"
	StepAnalyzing    Step = "analyzing"
	StepScoring      Step = "scoring"
	StepCompleted    Step = "completed"
	StepFailed       Step = "failed"
)

var stepPercent = map[Step]int{
	StepStarted:      0,
	StepDetecting:    10,
	StepValidating:   20,
	StepFetchingData: 35,
	StepAnalyzing:    70,
	StepScoring:      85,
	StepCompleted:    100,
}

// Percent returns the fixed progress percentage of a step. Failed has
// none of its own and reports the percentage reached before it.
func (s Step) Percent() int { return stepPercent[s] }

const (
	defaultHistoryLimit = 100
	defaultTimeout      = 2 * time.Minute
	persistTimeout      = 10 * time.Second
	dailyFlowDays       = 30

	// Every run emits at most seven events, so a buffer this size means
	// the engine never blocks on a reader that walked away.
	progressBuffer = 8

	messageSender    = "wallet-investigator"
	messageRecipient = "orchestrator"
	messageType      = "investigation_completed"
)

// StepError reports which step an investigation failed in. The wrapped
// error matches the models taxonomy with errors.Is.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("investigation failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Request asks for one investigation. Chain is optional; when empty the
// chain is detected from the address.
type Request struct {
	Address string           `json:"address"`
	Chain   models.ChainName `json:"chain,omitempty"`
}

// Sink persists finished records and the agent messages announcing them
type Sink interface {
	AppendRecord(ctx context.Context, rec *models.InvestigationRecord) error
	AppendMessage(ctx context.Context, msg models.AgentMessage) error
	Query(ctx context.Context, address string, chain models.ChainName) ([]models.InvestigationRecord, error)
}

// Publisher announces finished investigations to other agents
type Publisher interface {
	Publish(ctx context.Context, chain models.ChainName, msg models.AgentMessage) error
}

// Options configures an Engine. Registry and Classifier are required;
// everything else has a usable zero value.
type Options struct {
	Registry     *chains.Registry
	Classifier   *detect.Classifier
	Tracker      *analysis.Tracker
	Sink         Sink
	Publisher    Publisher
	Cases        *Cases
	HistoryLimit int
	Timeout      time.Duration
	Logger       zerolog.Logger
}

// Engine runs investigations. It is safe for concurrent use; each run
// owns its own state.
type Engine struct {
	registry     *chains.Registry
	classifier   *detect.Classifier
	tracker      *analysis.Tracker
	sink         Sink
	publisher    Publisher
	cases        *Cases
	historyLimit int
	timeout      time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewEngine creates an engine from opts
func NewEngine(opts Options) *Engine {
	if opts.Tracker == nil {
		opts.Tracker = analysis.NewTracker(analysis.DefaultLabelBook())
	}
	if opts.Cases == nil {
		opts.Cases = NewCases(0)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Engine{
		registry:     opts.Registry,
		classifier:   opts.Classifier,
		tracker:      opts.Tracker,
		sink:         opts.Sink,
		publisher:    opts.Publisher,
		cases:        opts.Cases,
		historyLimit: opts.HistoryLimit,
		timeout:      opts.Timeout,
		log:          opts.Logger.With().Str("component", "investigation").Logger(),
		now:          time.Now,
	}
}

// Cases exposes the engine's case registry
func (e *Engine) Cases() *Cases { return e.cases }

// Sink exposes the configured storage sink, which may be nil
func (e *Engine) Sink() Sink { return e.sink }

// Detect classifies an address without running an investigation
func (e *Engine) Detect(address string) (models.Detection, error) {
	_, det, err := e.resolveChain(strings.TrimSpace(address), "")
	return det, err
}

// Run is a handle on an investigation started by Stream. Progress events
// arrive in step order and the channel closes when the run ends; it
// cannot be restarted.
type Run struct {
	ID       string
	progress chan models.Progress
	done     chan struct{}
	record   *models.InvestigationRecord
	err      error
}

// Progress returns the run's progress events
func (r *Run) Progress() <-chan models.Progress { return r.progress }

// Done is closed once the run has finished
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes. Unread progress events are not
// required to be drained first.
func (r *Run) Wait() (*models.InvestigationRecord, error) {
	<-r.done
	return r.record, r.err
}

// Investigate runs an investigation to completion
func (e *Engine) Investigate(ctx context.Context, req Request) (*models.InvestigationRecord, error) {
	return e.Stream(ctx, req).Wait()
}

// Stream starts an investigation in the background and returns its handle
func (e *Engine) Stream(ctx context.Context, req Request) *Run {
	run := &Run{
		ID:       uuid.NewString(),
		progress: make(chan models.Progress, progressBuffer),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		defer close(run.progress)
		run.record, run.err = e.execute(ctx, run, req)
	}()
	return run
}

// runState carries the per-run progress bookkeeping
type runState struct {
	engine  *Engine
	run     *Run
	percent int
	log     zerolog.Logger
}

func (s *runState) emit(step Step, msg string) {
	pct := s.percent
	if step != StepFailed {
		pct = max(step.Percent(), s.percent)
	}
	s.percent = pct

	p := models.Progress{
		InvestigationID: s.run.ID,
		Step:            string(step),
		Percent:         pct,
		Message:         msg,
		Timestamp:       s.engine.now(),
	}
	s.engine.cases.Advance(p)
	s.run.progress <- p
}

func (s *runState) fail(ctx context.Context, step Step, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", models.ErrInvestigationTimedOut, s.engine.timeout, err)
	}
	s.log.Warn().Err(err).Str("step", string(step)).Msg("Investigation failed")
	s.engine.cases.Fail(s.run.ID, step, err)
	s.emit(StepFailed, err.Error())
	return &StepError{Step: step, Err: err}
}

func (e *Engine) execute(parent context.Context, run *Run, req Request) (*models.InvestigationRecord, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	address := strings.TrimSpace(req.Address)
	s := &runState{
		engine: e,
		run:    run,
		log:    e.log.With().Str("investigation", run.ID).Str("address", address).Logger(),
	}
	started := e.now()
	e.cases.Create(run.ID, address, strings.ToLower(req.Chain))
	s.emit(StepStarted, fmt.Sprintf("Investigation started for %s", address))

	// ─── Detecting ───
	s.emit(StepDetecting, "Detecting blockchain network")
	chain, det, err := e.resolveChain(address, req.Chain)
	if err != nil {
		return nil, s.fail(ctx, StepDetecting, err)
	}
	e.cases.SetChain(run.ID, chain)
	s.log = s.log.With().Str("chain", chain).Logger()

	// ─── Validating ───
	s.emit(StepValidating, fmt.Sprintf("Validating address on %s", chain))
	adapter, err := e.registry.GetService(chain)
	if err != nil {
		return nil, s.fail(ctx, StepValidating, err)
	}
	if !adapter.ValidateAddress(address) {
		return nil, s.fail(ctx, StepValidating, fmt.Errorf("%s on %s: %w", address, chain, models.ErrInvalidAddressForChain))
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, StepValidating, err)
	}

	// ─── Fetching ───
	s.emit(StepFetchingData, "Fetching balance, transaction history and tokens")
	data, err := e.fetch(ctx, adapter, address)
	if err != nil {
		return nil, s.fail(ctx, StepFetchingData, err)
	}
	for _, w := range data.warnings {
		s.log.Warn().Str("warning", w).Msg("Partial data")
	}

	// ─── Analyzing ───
	s.emit(StepAnalyzing, fmt.Sprintf("Analyzing %d transactions", len(data.txs)))
	txAnalysis := analysis.Analyze(data.txs, address, chain)
	flows := e.tracker.Track(data.txs, address)
	summary := analysis.Summarize(flows)
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, StepAnalyzing, err)
	}

	// ─── Scoring ───
	s.emit(StepScoring, "Generating wallet opinion and risk score")
	opinion := analysis.Opine(data.balance, data.tokens, txAnalysis, flows)
	risk := analysis.Assess(data.balance, data.tokens, txAnalysis, flows)
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, StepScoring, err)
	}

	completed := e.now()
	rec := &models.InvestigationRecord{
		ID:              run.ID,
		Address:         address,
		Chain:           chain,
		ChainInfo:       adapter.GetChainInfo(),
		Detection:       det,
		Balance:         data.balance,
		Tokens:          data.tokens,
		Transactions:    data.txs,
		Analysis:        txAnalysis,
		FundFlows:       flows,
		FundFlowSummary: summary,
		DailyFlows:      analysis.DailyFlows(flows, dailyFlowDays, completed),
		Opinion:         opinion,
		Risk:            risk,
		Warnings:        data.warnings,
		StartedAt:       started,
		CompletedAt:     completed,
		EngineVersion:   models.EngineVersion,
	}

	// ─── Completed ───
	e.persist(ctx, s.log, rec)
	e.cases.Complete(run.ID, rec)
	s.emit(StepCompleted, fmt.Sprintf("Investigation complete: %s wallet, %s risk (%d/100)",
		opinion.Archetype, risk.Level, risk.Score))
	s.log.Info().
		Int("transactions", len(data.txs)).
		Int("riskScore", risk.Score).
		Str("archetype", string(opinion.Archetype)).
		Dur("elapsed", rec.CompletedAt.Sub(started)).
		Msg("Investigation completed")
	return rec, nil
}

// resolveChain picks the chain for address. An explicit chain wins. The
// classifier runs next, and when it fails, names a chain that is not
// registered, or names one whose adapter rejects the address, every
// registered adapter is tried in registration order.
func (e *Engine) resolveChain(address string, requested models.ChainName) (models.ChainName, models.Detection, error) {
	if address == "" {
		return "", models.Detection{}, fmt.Errorf("empty address: %w", models.ErrUnrecognizedAddressFormat)
	}

	if requested = strings.ToLower(strings.TrimSpace(requested)); requested != "" {
		if _, err := e.registry.GetService(requested); err != nil {
			return "", models.Detection{}, err
		}
		return requested, models.Detection{
			Chain:      requested,
			Confidence: 1,
			Candidates: []models.ChainName{requested},
			Method:     "requested",
		}, nil
	}

	det, classifyErr := e.classifier.Classify(address)
	registered := classifyErr == nil && e.registry.Has(det.Chain)
	if registered && e.registry.ValidateAddress(address, det.Chain) {
		return det.Chain, det, nil
	}

	var matched []models.ChainName
	for _, name := range e.registry.Supported() {
		if e.registry.ValidateAddress(address, name) {
			matched = append(matched, name)
		}
	}
	if len(matched) > 0 {
		return matched[0], models.Detection{
			Chain:      matched[0],
			Confidence: 1 / float64(len(matched)),
			Candidates: matched,
			Method:     "probe",
		}, nil
	}

	if classifyErr != nil {
		return "", models.Detection{}, classifyErr
	}
	if registered {
		// Validation reports the mismatch against the detected chain
		return det.Chain, det, nil
	}
	return "", models.Detection{}, fmt.Errorf("%s detected but not enabled: %w", det.Chain, models.ErrUnsupportedChain)
}

type fetched struct {
	balance  models.Balance
	txs      []models.Transaction
	tokens   []models.TokenBalance
	warnings []string
}

// fetch loads balance, history and tokens concurrently. Each goroutine
// writes its own field; only balance and history failures are fatal.
func (e *Engine) fetch(ctx context.Context, adapter chains.Adapter, address string) (fetched, error) {
	var (
		out      fetched
		tokenErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := adapter.GetBalance(gctx, address)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		out.balance = b
		return nil
	})
	g.Go(func() error {
		txs, err := adapter.GetTransactionHistory(gctx, address, e.historyLimit)
		if err != nil {
			return fmt.Errorf("transaction history: %w", err)
		}
		out.txs = txs
		return nil
	})
	if lister, ok := adapter.(chains.TokenLister); ok {
		g.Go(func() error {
			tokens, err := lister.GetAllTokenBalances(gctx, address)
			if err != nil {
				tokenErr = err
				return nil
			}
			out.tokens = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fetched{}, err
	}

	if out.txs == nil {
		out.txs = []models.Transaction{}
	}
	if out.tokens == nil {
		out.tokens = []models.TokenBalance{}
	}
	out.warnings = []string{}
	if tokenErr != nil {
		out.warnings = append(out.warnings, fmt.Sprintf("token balances: %v: %v", models.ErrPartialDataUnavailable, tokenErr))
	}
	return out, nil
}

// persist appends the record and its agent message to the sink and the
// bus. Failures are logged and never fail the investigation.
func (e *Engine) persist(ctx context.Context, log zerolog.Logger, rec *models.InvestigationRecord) {
	if e.sink == nil && e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	msg := CompletionMessage(rec)
	if e.sink != nil {
		if err := e.sink.AppendRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("Failed to store investigation record")
		}
		if err := e.sink.AppendMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("Failed to store agent message")
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, rec.Chain, msg); err != nil {
			log.Warn().Err(err).Msg("Failed to publish agent message")
		}
	}
}

// CompletionMessage builds the agent handoff message for a finished record
func CompletionMessage(rec *models.InvestigationRecord) models.AgentMessage {
	priority := "normal"
	if rec.Risk.Level == models.RiskHigh || rec.Risk.Level == models.RiskCritical {
		priority = "high"
	}
	return models.AgentMessage{
		ID:        uuid.NewString(),
		Sender:    messageSender,
		Recipient: messageRecipient,
		Type:      messageType,
		Priority:  priority,
		Timestamp: rec.CompletedAt,
		Payload: map[string]any{
			"investigationId": rec.ID,
			"address":         rec.Address,
			"chain":           rec.Chain,
			"archetype":       string(rec.Opinion.Archetype),
			"riskScore":       rec.Risk.Score,
			"riskLevel":       string(rec.Risk.Level),
			"estimatedValue":  rec.Opinion.EstimatedValue,
			"transactions":    rec.Analysis.TransactionCount,
		},
	}
}
