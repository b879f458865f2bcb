package pipeline

import (
	"time"

	"github.com/kiranshivaraju/scoutreport/internal/config"
)

const (
	defaultMetadataTimeout = 10 * time.Second
	defaultAnalysisTimeout = 2 * time.Minute
	defaultRenderTimeout   = time.Minute
	defaultLeaseDuration   = 5 * time.Minute
	defaultSweepInterval   = 30 * time.Second
	defaultQueuedGrace     = time.Minute
	defaultSweepBatch      = 50
)

// Config bounds each pipeline step. LeaseDuration must exceed the sum of
// the step timeouts or a healthy run could be re-claimed under it.
type Config struct {
	MetadataTimeout time.Duration
	AnalysisTimeout time.Duration
	RenderTimeout   time.Duration
	LeaseDuration   time.Duration
}

// ConfigFrom fills zero values in the loaded pipeline settings with
// defaults.
func ConfigFrom(c config.PipelineConfig) Config {
	cfg := Config{
		MetadataTimeout: c.MetadataTimeout,
		AnalysisTimeout: c.AnalysisTimeout,
		RenderTimeout:   c.RenderTimeout,
		LeaseDuration:   c.LeaseDuration,
	}
	return cfg.normalize()
}

func (c Config) normalize() Config {
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = defaultMetadataTimeout
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = defaultAnalysisTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = defaultRenderTimeout
	}
	if floor := c.MetadataTimeout + c.AnalysisTimeout + c.RenderTimeout; c.LeaseDuration <= floor {
		c.LeaseDuration = max(defaultLeaseDuration, 2*floor)
	}
	return c
}
