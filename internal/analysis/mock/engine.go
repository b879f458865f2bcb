package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// MockEngine satisfies models.AnalysisEngine for testing.
type MockEngine struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, video models.VideoMetadata) (*models.AnalysisDocument, error)

	calls atomic.Int64
}

func (m *MockEngine) Name() string { return m.Name_ }

func (m *MockEngine) Analyze(ctx context.Context, video models.VideoMetadata) (*models.AnalysisDocument, error) {
	m.calls.Add(1)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, video)
	}
	return &models.AnalysisDocument{VideoID: video.ID}, nil
}

// Calls reports how many times Analyze has been invoked.
func (m *MockEngine) Calls() int { return int(m.calls.Load()) }

// NewMockEngine returns a MockEngine that produces a small fixed document.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, video models.VideoMetadata) (*models.AnalysisDocument, error) {
			return &models.AnalysisDocument{
				VideoID:    video.ID,
				VideoTitle: video.Title,
				AnalyzedAt: time.Now().UTC(),
				Team: models.TeamAnalysis{
					TeamName: "Mock Opponents",
					Players: []models.PlayerAnalysis{
						{JerseyNumber: 23, Name: "Player 1", Position: "SF", Height: "6'8\""},
					},
					DefensiveScheme:     "Zone",
					TeamStrengths:       []string{"Athletic team"},
					TeamWeaknesses:      []string{"Turnover prone"},
					RecommendedStrategy: "Apply full-court pressure to force turnovers",
				},
			}, nil
		},
	}
}

// NewFailingEngine returns a MockEngine whose Analyze always fails with
// err wrapped in models.ErrAnalysisFailed.
func NewFailingEngine(err error) *MockEngine {
	return &MockEngine{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.VideoMetadata) (*models.AnalysisDocument, error) {
			return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
		},
	}
}

// NewTimeoutEngine returns a MockEngine that blocks until context is cancelled.
func NewTimeoutEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.VideoMetadata) (*models.AnalysisDocument, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, ctx.Err())
		},
	}
}

// Compile-time check that MockEngine implements AnalysisEngine.
var _ models.AnalysisEngine = (*MockEngine)(nil)
