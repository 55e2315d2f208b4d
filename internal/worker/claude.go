package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/codepatrol/patrol/internal/types"
)

// DefaultClaudeModel is used when no model override is configured.
const DefaultClaudeModel = "claude-sonnet-4-5-20250929"

// maxConcurrentAPICalls caps in-flight Anthropic requests regardless of the
// scheduler's concurrency setting.
const maxConcurrentAPICalls = 2

const auditPromptTemplate = `You are a code auditor. Review the following file and report findings.

Respond with ONLY a JSON array. Each element:
{"severity": "critical|high|medium|low|info", "category": "security|correctness|performance|maintainability|style|docs", "line": <int>, "message": "...", "evidence": "...", "confidence": <0..1>}

Report an empty array [] if the file is clean.

File: %s

%s`

// ClaudeWorker audits items with the Anthropic API. Each run's response is
// unique evidence, so Claude work is non-fungible: a stale run is flagged
// but never silently reassigned.
type ClaudeWorker struct {
	client  anthropic.Client
	model   string
	root    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wave    atomic.Int64
}

// NewClaudeWorker creates a Claude-backed worker. The API key comes from
// ANTHROPIC_API_KEY. requestsPerMinute of zero disables rate limiting.
func NewClaudeWorker(root, model string, requestsPerMinute int) (*ClaudeWorker, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
	}
	if model == "" {
		model = DefaultClaudeModel
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1)
	}

	return &ClaudeWorker{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		root:    root,
		sem:     semaphore.NewWeighted(maxConcurrentAPICalls),
		limiter: limiter,
	}, nil
}

// ID implements scheduler.Worker.
func (w *ClaudeWorker) ID() string {
	return "claude:" + w.model
}

// Idempotent implements scheduler.Worker.
func (w *ClaudeWorker) Idempotent() bool {
	return false
}

// SetWave sets the wave tag stamped onto findings from subsequent runs.
func (w *ClaudeWorker) SetWave(wave int) {
	w.wave.Store(int64(wave))
}

// Run implements scheduler.Worker.
func (w *ClaudeWorker) Run(ctx context.Context, item *types.WorkItem) ([]types.Finding, error) {
	content, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(item.ID)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", item.ID, err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.sem.Release(1)

	prompt := fmt.Sprintf(auditPromptTemplate, item.ID, string(content))

	resp, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(w.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return parseFindings(text, item.ID, w.ID(), int(w.wave.Load()))
}
