// Package analysis selects the analysis engine used by the pipeline.
package analysis

import (
	"fmt"

	"github.com/kiranshivaraju/scoutreport/internal/analysis/remote"
	"github.com/kiranshivaraju/scoutreport/internal/analysis/stub"
	"github.com/kiranshivaraju/scoutreport/internal/config"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// NewEngine constructs the analysis engine named in config.
// Called once at server startup.
func NewEngine(cfg config.AnalysisConfig) (models.AnalysisEngine, error) {
	switch cfg.Engine {
	case "stub":
		return stub.NewEngine(), nil
	case "remote":
		if cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("remote analysis engine requires a base URL")
		}
		return remote.NewEngine(cfg.Remote), nil
	default:
		return nil, fmt.Errorf("unknown analysis engine %q: must be one of stub, remote", cfg.Engine)
	}
}
