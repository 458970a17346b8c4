package main

import (
	"github.com/spf13/viper"

	"github.com/CCAFRICA/spm-platform/internal/config"
)

func setDefaults() {
	d := config.Defaults()

	viper.SetDefault("database.path", config.DefaultDatabasePath)

	viper.SetDefault("convergence.min_confidence", d.Convergence.MinConfidence)
	viper.SetDefault("convergence.ai_review_below", d.Convergence.AIReviewBelow)
	viper.SetDefault("convergence.page_size", d.Convergence.PageSize)

	viper.SetDefault("calculation.page_size", d.Calculation.PageSize)

	viper.SetDefault("anomaly.stddev_threshold", d.Anomaly.StdDevThreshold)
	viper.SetDefault("anomaly.identical_min_count", d.Anomaly.IdenticalMinCount)

	viper.SetDefault("reconciliation.match_epsilon", d.Reconciliation.MatchEpsilon)
	viper.SetDefault("reconciliation.rounding_tolerance", d.Reconciliation.RoundingTolerance)
	viper.SetDefault("reconciliation.correction_min_confidence", d.Reconciliation.CorrectionMinConfidence)

	viper.SetDefault("resolution.synapse_min_confidence", d.Resolution.SynapseMinConfidence)
	viper.SetDefault("resolution.repeated_correction_min", d.Resolution.RepeatedCorrectionMin)
	viper.SetDefault("resolution.boundary_proximity_factor", d.Resolution.BoundaryProximityFactor)

	viper.SetDefault("synaptic.cache_ttl", d.Synaptic.CacheTTL)
	viper.SetDefault("synaptic.page_size", d.Synaptic.PageSize)

	viper.SetDefault("signals.queue_size", d.Signals.QueueSize)

	viper.SetDefault("ai.command", d.AI.Command)
	viper.SetDefault("ai.requests_per_minute", d.AI.RequestsPerMinute)
	viper.SetDefault("ai.cache_ttl", d.AI.CacheTTL)
	viper.SetDefault("ai.timeout", d.AI.Timeout)
}

// loadSettings reads the typed tunables from viper and validates them.
func loadSettings() (config.Settings, error) {
	s := config.Settings{
		Convergence: config.ConvergenceSettings{
			MinConfidence: viper.GetFloat64("convergence.min_confidence"),
			AIReviewBelow: viper.GetFloat64("convergence.ai_review_below"),
			PageSize:      viper.GetInt("convergence.page_size"),
		},
		Calculation: config.CalculationSettings{
			PageSize: viper.GetInt("calculation.page_size"),
		},
		Anomaly: config.AnomalySettings{
			StdDevThreshold:   viper.GetFloat64("anomaly.stddev_threshold"),
			IdenticalMinCount: viper.GetInt("anomaly.identical_min_count"),
		},
		Reconciliation: config.ReconciliationSettings{
			MatchEpsilon:            viper.GetFloat64("reconciliation.match_epsilon"),
			RoundingTolerance:       viper.GetFloat64("reconciliation.rounding_tolerance"),
			CorrectionMinConfidence: viper.GetFloat64("reconciliation.correction_min_confidence"),
		},
		Resolution: config.ResolutionSettings{
			SynapseMinConfidence:    viper.GetFloat64("resolution.synapse_min_confidence"),
			RepeatedCorrectionMin:   viper.GetInt("resolution.repeated_correction_min"),
			BoundaryProximityFactor: viper.GetFloat64("resolution.boundary_proximity_factor"),
		},
		Synaptic: config.SynapticSettings{
			CacheTTL: viper.GetDuration("synaptic.cache_ttl"),
			PageSize: viper.GetInt("synaptic.page_size"),
		},
		Signals: config.SignalSettings{
			QueueSize: viper.GetInt("signals.queue_size"),
		},
		AI: config.AISettings{
			Command:           config.ExpandPath(viper.GetString("ai.command")),
			Args:              viper.GetStringSlice("ai.args"),
			RequestsPerMinute: viper.GetInt("ai.requests_per_minute"),
			CacheTTL:          viper.GetDuration("ai.cache_ttl"),
			Timeout:           viper.GetDuration("ai.timeout"),
		},
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}
