// Package converge drives the iterative repair loop: produce findings, fix
// them, re-verify, until a composite convergence score clears the bar or the
// tier's cycle cap is hit. Cycles are strictly sequential; one cycle's
// verify step gates the next cycle's review.
package converge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/codepatrol/patrol/internal/bisect"
	"github.com/codepatrol/patrol/internal/types"
)

// Phase is the controller's position in the repair state machine.
type Phase string

const (
	PhaseReviewing Phase = "reviewing"
	PhaseFixing    Phase = "fixing"
	PhaseVerifying Phase = "verifying"
	PhaseConverged Phase = "converged"
	PhaseContinue  Phase = "continue"
	PhaseHalted    Phase = "halted"
)

// Tier names a repair-effort policy.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierThorough Tier = "thorough"
)

// TierPolicy fixes the cycle bounds for a tier.
type TierPolicy struct {
	MinCycles int `yaml:"min_cycles" json:"min_cycles"`
	MaxCycles int `yaml:"max_cycles" json:"max_cycles"`
}

// Config controls convergence judgment.
type Config struct {
	Tier     Tier                `yaml:"tier" json:"tier"`
	Policies map[Tier]TierPolicy `yaml:"policies" json:"policies"`

	// CriticalMax is the acceptable count of top-severity findings.
	CriticalMax int `yaml:"critical_max" json:"critical_max"`
	// SecondaryMax is the acceptable count of high-severity findings.
	SecondaryMax int `yaml:"secondary_max" json:"secondary_max"`
	// RequiredImprovement is the fraction by which total findings must
	// shrink versus the previous cycle for the improvement check to pass.
	RequiredImprovement float64 `yaml:"required_improvement" json:"required_improvement"`
	// ScoreBar is the composite score threshold declaring convergence.
	ScoreBar float64 `yaml:"score_bar" json:"score_bar"`
}

// DefaultConfig returns the standard-tier defaults.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierStandard,
		Policies: map[Tier]TierPolicy{
			TierLight:    {MinCycles: 1, MaxCycles: 2},
			TierStandard: {MinCycles: 2, MaxCycles: 4},
			TierThorough: {MinCycles: 3, MaxCycles: 8},
		},
		CriticalMax:         0,
		SecondaryMax:        2,
		RequiredImprovement: 0.2,
		ScoreBar:            0.75,
	}
}

// Composite score weights. The minimum-cycle gate is deliberately the
// lightest: it delays convergence but cannot carry it.
const (
	weightCritical    = 0.35
	weightSecondary   = 0.25
	weightImprovement = 0.25
	weightMinCycles   = 0.15
)

// Reviewer produces the current findings for the scope under repair.
type Reviewer interface {
	Review(ctx context.Context, cycle int) ([]types.Finding, error)
}

// Fixer applies repairs for the given findings and returns the discrete
// changes it made, each independently revertible for bisection.
type Fixer interface {
	Fix(ctx context.Context, findings []types.Finding) ([]bisect.Change, error)
}

// CycleReport records one completed cycle for the result trail.
type CycleReport struct {
	Cycle          int           `json:"cycle"`
	Findings       int           `json:"findings"`
	Critical       int           `json:"critical"`
	Secondary      int           `json:"secondary"`
	ChangesApplied int           `json:"changes_applied"`
	ChangesFailed  []string      `json:"changes_failed,omitempty"`
	Score          float64       `json:"score"`
	Phase          Phase         `json:"phase"`
	Duration       time.Duration `json:"duration"`
}

// Result is the outcome of a repair loop.
type Result struct {
	Phase    Phase
	Cycles   []CycleReport
	Final    []types.Finding
	// BestScore is the highest composite score reached; on Halted the
	// loop proceeds using the best state rather than blocking.
	BestScore float64
}

// Controller runs the repair loop for one scope.
type Controller struct {
	cfg      *Config
	reviewer Reviewer
	fixer    Fixer
	gate     bisect.Gate
}

// New creates a controller. The gate is consumed by both the verify step and
// the bisection fallback.
func New(reviewer Reviewer, fixer Fixer, gate bisect.Gate, cfg *Config) (*Controller, error) {
	if reviewer == nil || fixer == nil || gate == nil {
		return nil, fmt.Errorf("reviewer, fixer, and gate are required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	policy, ok := cfg.Policies[cfg.Tier]
	if !ok {
		return nil, fmt.Errorf("no policy for tier %q", cfg.Tier)
	}
	if policy.MaxCycles <= 0 {
		return nil, fmt.Errorf("tier %q has MaxCycles %d (must be positive to prevent infinite loops)",
			cfg.Tier, policy.MaxCycles)
	}
	if policy.MinCycles > policy.MaxCycles {
		return nil, fmt.Errorf("tier %q MinCycles (%d) exceeds MaxCycles (%d)",
			cfg.Tier, policy.MinCycles, policy.MaxCycles)
	}
	return &Controller{cfg: cfg, reviewer: reviewer, fixer: fixer, gate: gate}, nil
}

// Run executes repair cycles until convergence, cancellation, or the cycle
// cap. Reaching the cap without convergence Halts with a warning and keeps
// the best state reached; it never blocks indefinitely.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	policy := c.cfg.Policies[c.cfg.Tier]
	result := &Result{Phase: PhaseContinue}

	prevTotal := -1

	for cycle := 1; cycle <= policy.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("repair loop canceled at cycle %d: %w", cycle, err)
		}

		start := time.Now()
		report := CycleReport{Cycle: cycle, Phase: PhaseReviewing}

		findings, err := c.reviewer.Review(ctx, cycle)
		if err != nil {
			return result, fmt.Errorf("review failed at cycle %d: %w", cycle, err)
		}
		report.Findings = len(findings)
		report.Critical = countSeverity(findings, types.SeverityCritical)
		report.Secondary = countSeverity(findings, types.SeverityHigh)
		result.Final = findings

		report.Phase = PhaseFixing
		var changes []bisect.Change
		if len(findings) > 0 {
			changes, err = c.fixer.Fix(ctx, findings)
			if err != nil {
				return result, fmt.Errorf("fix failed at cycle %d: %w", cycle, err)
			}
			report.ChangesApplied = len(changes)
		}

		report.Phase = PhaseVerifying
		if len(changes) > 0 {
			if err := c.verify(ctx, changes, &report); err != nil {
				return result, err
			}
		}

		score := c.convergenceScore(cycle, policy, report, prevTotal)
		report.Score = score
		if score > result.BestScore {
			result.BestScore = score
		}
		prevTotal = report.Findings

		if cycle >= policy.MinCycles && score >= c.cfg.ScoreBar {
			report.Phase = PhaseConverged
			report.Duration = time.Since(start)
			result.Cycles = append(result.Cycles, report)
			result.Phase = PhaseConverged
			return result, nil
		}

		report.Phase = PhaseContinue
		report.Duration = time.Since(start)
		result.Cycles = append(result.Cycles, report)
	}

	fmt.Fprintf(os.Stderr,
		"warning: repair loop halted after %d cycles without convergence (best score %.2f, bar %.2f)\n",
		policy.MaxCycles, result.BestScore, c.cfg.ScoreBar)
	result.Phase = PhaseHalted
	return result, nil
}

// verify runs the validation gate over the cycle's applied changes. On
// failure with multiple changes it bisects to isolate the offender and keeps
// the rest; a single failing change is reverted outright.
func (c *Controller) verify(ctx context.Context, changes []bisect.Change, report *CycleReport) error {
	ok, err := c.gate.Check(ctx)
	if err != nil {
		return fmt.Errorf("validation gate at cycle %d: %w", report.Cycle, err)
	}
	if ok {
		return nil
	}

	isolated, err := bisect.Isolate(ctx, changes, c.gate)
	if err != nil {
		return fmt.Errorf("bisecting failed changes at cycle %d: %w", report.Cycle, err)
	}
	for _, failed := range isolated.Failing {
		report.ChangesFailed = append(report.ChangesFailed, failed.ID())
		fmt.Fprintf(os.Stderr, "warning: change %s (worker %s) failed validation and was reverted\n",
			failed.ID(), failed.Producer())
	}
	report.ChangesApplied = len(isolated.Passing)
	return nil
}

// convergenceScore combines the four checks into [0,1].
func (c *Controller) convergenceScore(cycle int, policy TierPolicy, report CycleReport, prevTotal int) float64 {
	score := 0.0
	if cycle >= policy.MinCycles {
		score += weightMinCycles
	}
	if report.Critical <= c.cfg.CriticalMax {
		score += weightCritical
	}
	if report.Secondary <= c.cfg.SecondaryMax {
		score += weightSecondary
	}
	if improved(prevTotal, report.Findings, c.cfg.RequiredImprovement) {
		score += weightImprovement
	}
	return score
}

// improved reports whether the finding count shrank by at least the required
// ratio. The first cycle has no baseline; an already-clean result counts as
// improved.
func improved(prev, current int, required float64) bool {
	if current == 0 {
		return true
	}
	if prev < 0 {
		return false
	}
	if prev == 0 {
		return false
	}
	reduction := float64(prev-current) / float64(prev)
	return reduction >= required
}

func countSeverity(findings []types.Finding, sev types.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
