package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GratefulDave/stravinsky-sub003/internal/bconfig"
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := bconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("orchestrator: strict_mode=%v max_critiques=%d gate_enabled=%v\n",
		cfg.Orchestrator.StrictMode, cfg.Orchestrator.MaxCritiques, cfg.Orchestrator.GateEnabled)
	fmt.Printf("delegation:   window_ms=%d strict=%v\n", cfg.Delegation.WindowMS, cfg.Delegation.Strict)
	fmt.Printf("concurrency:  rate_limit=%d/%dms kinds=%v\n",
		cfg.Concurrency.RateLimit, cfg.Concurrency.RateWindowMS, cfg.Concurrency.KindCapacity)
	fmt.Printf("supervisor:   grace_period=%s max_retries=%d\n",
		cfg.Supervisor.GracePeriod, cfg.Supervisor.MaxRetries)
	fmt.Printf("sidecar:      enabled=%v dir=%s\n", cfg.Sidecar.Enabled, cfg.Sidecar.Dir)
	fmt.Printf("observability: log_level=%s log_format=%s\n", cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return nil
}
