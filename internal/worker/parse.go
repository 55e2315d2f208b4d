// Package worker provides the worker implementations that sit at the
// collaborator boundary of the scheduler: a command worker that spawns an
// external analyzer process, and a Claude worker backed by the Anthropic
// API. Both emit the same finding wire format.
package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/codepatrol/patrol/internal/types"
)

// wireFinding is the JSON shape workers emit, one object per finding.
type wireFinding struct {
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
	Line       int     `json:"line,omitempty"`
	Message    string  `json:"message"`
	Evidence   string  `json:"evidence,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	arrayRegex     = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// parseFindings extracts a findings array from raw worker output. Output may
// be a bare JSON array, or prose with a fenced or embedded array; anything
// around the array is tolerated, a missing array is an error.
func parseFindings(raw, itemID, workerID string, wave int) ([]types.Finding, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, nil
	}

	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(text, "[") {
		if m := arrayRegex.FindString(text); m != "" {
			text = m
		}
	}

	var wire []wireFinding
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("parsing findings output: %w", err)
	}

	findings := make([]types.Finding, 0, len(wire))
	for i, wf := range wire {
		category := types.CategoryUnknown
		if wf.Category != "" {
			// Prefixed identifiers like "security/injection" keep the
			// suffix as detail; only the leading segment is the enum.
			head := wf.Category
			if idx := strings.IndexByte(head, '/'); idx > 0 {
				head = head[:idx]
			}
			if parsed, err := types.ParseCategory(head); err == nil {
				category = parsed
			}
		}

		confidence := wf.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.5
		}

		f := types.Finding{
			ItemID:     itemID,
			Severity:   types.Severity(strings.ToLower(wf.Severity)),
			Category:   category,
			Line:       wf.Line,
			Message:    wf.Message,
			Evidence:   wf.Evidence,
			WorkerID:   workerID,
			Wave:       wave,
			Confidence: confidence,
		}
		if !f.Severity.IsValid() {
			f.Severity = types.SeverityInfo
		}
		if err := f.Validate(); err != nil {
			// One malformed element must not discard the rest of the
			// item's output.
			fmt.Fprintf(os.Stderr, "warning: dropping invalid finding %d for %s: %v\n", i, itemID, err)
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}
