package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/common"
)

// Settings holds the tunable thresholds of the evaluation core. None of these
// are business rules; they default to the values observed in production and
// can be overridden per deployment.
type Settings struct {
	Convergence    ConvergenceSettings
	Calculation    CalculationSettings
	Anomaly        AnomalySettings
	Reconciliation ReconciliationSettings
	Resolution     ResolutionSettings
	Synaptic       SynapticSettings
	Signals        SignalSettings
	AI             AISettings
}

// ConvergenceSettings tunes field matching.
type ConvergenceSettings struct {
	MinConfidence float64 // below this a candidate is never applied
	AIReviewBelow float64 // best deterministic scores under this are sent to the AI service
	PageSize      int
}

// CalculationSettings tunes the calculation engine.
type CalculationSettings struct {
	PageSize int
}

// AnomalySettings tunes the anomaly detector.
type AnomalySettings struct {
	StdDevThreshold   float64
	IdenticalMinCount int
}

// ReconciliationSettings tunes benchmark comparison.
type ReconciliationSettings struct {
	MatchEpsilon            float64
	RoundingTolerance       float64
	CorrectionMinConfidence float64
}

// ResolutionSettings tunes dispute investigation.
type ResolutionSettings struct {
	SynapseMinConfidence    float64
	RepeatedCorrectionMin   int
	BoundaryProximityFactor float64 // fraction of a band width treated as "near the boundary"
}

// SynapticSettings tunes agent memory loading.
type SynapticSettings struct {
	CacheTTL time.Duration
	PageSize int
}

// SignalSettings tunes the fire-and-forget signal sink.
type SignalSettings struct {
	QueueSize int
}

// AISettings configures the external AI collaborator. An empty Command
// disables AI assistance entirely.
type AISettings struct {
	Command           string
	Args              []string
	RequestsPerMinute int
	CacheTTL          time.Duration
	Timeout           time.Duration
}

// Defaults returns the default settings.
func Defaults() Settings {
	return Settings{
		Convergence: ConvergenceSettings{
			MinConfidence: 0.50,
			AIReviewBelow: 0.80,
			PageSize:      500,
		},
		Calculation: CalculationSettings{
			PageSize: 1000,
		},
		Anomaly: AnomalySettings{
			StdDevThreshold:   2.0,
			IdenticalMinCount: 3,
		},
		Reconciliation: ReconciliationSettings{
			MatchEpsilon:            0.005,
			RoundingTolerance:       0.50,
			CorrectionMinConfidence: 0.80,
		},
		Resolution: ResolutionSettings{
			SynapseMinConfidence:    0.70,
			RepeatedCorrectionMin:   2,
			BoundaryProximityFactor: 0.02,
		},
		Synaptic: SynapticSettings{
			CacheTTL: 10 * time.Minute,
			PageSize: 1000,
		},
		Signals: SignalSettings{
			QueueSize: 256,
		},
		AI: AISettings{
			RequestsPerMinute: 30,
			CacheTTL:          15 * time.Minute,
			Timeout:           30 * time.Second,
		},
	}
}

// Validate checks that every threshold is in range.
func (s Settings) Validate() error {
	switch {
	case s.Convergence.MinConfidence <= 0 || s.Convergence.MinConfidence > 1:
		return fmt.Errorf("%w: convergence.min_confidence must be in (0,1]", common.ErrInvalidConfig)
	case s.Convergence.AIReviewBelow < 0 || s.Convergence.AIReviewBelow > 1:
		return fmt.Errorf("%w: convergence.ai_review_below must be in [0,1]", common.ErrInvalidConfig)
	case s.Convergence.PageSize <= 0 || s.Calculation.PageSize <= 0 || s.Synaptic.PageSize <= 0:
		return fmt.Errorf("%w: page sizes must be positive", common.ErrInvalidConfig)
	case s.Anomaly.StdDevThreshold <= 0:
		return fmt.Errorf("%w: anomaly.stddev_threshold must be positive", common.ErrInvalidConfig)
	case s.Anomaly.IdenticalMinCount < 2:
		return fmt.Errorf("%w: anomaly.identical_min_count must be at least 2", common.ErrInvalidConfig)
	case s.Reconciliation.MatchEpsilon < 0 || s.Reconciliation.RoundingTolerance < s.Reconciliation.MatchEpsilon:
		return fmt.Errorf("%w: reconciliation tolerances must satisfy 0 <= match_epsilon <= rounding_tolerance", common.ErrInvalidConfig)
	case s.Signals.QueueSize <= 0:
		return fmt.Errorf("%w: signals.queue_size must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// DefaultDatabasePath is where the ledger lives when database.path is unset.
const DefaultDatabasePath = "~/.local/share/spm/spm.db"

// DatabasePath expands the configured database path, falling back to
// DefaultDatabasePath when it is empty.
func DatabasePath(configured string) string {
	if strings.TrimSpace(configured) == "" {
		configured = DefaultDatabasePath
	}
	return ExpandPath(configured)
}

// ExpandPath resolves a leading ~ to the home directory and expands $VAR
// references. The tilde is kept when the home directory is unknown.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
