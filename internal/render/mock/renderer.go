package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// MockRenderer satisfies models.ArtifactRenderer for testing.
type MockRenderer struct {
	RenderFunc func(ctx context.Context, job *models.ReportJob, doc *models.AnalysisDocument) (string, error)

	calls atomic.Int64
}

func (m *MockRenderer) Render(ctx context.Context, job *models.ReportJob, doc *models.AnalysisDocument) (string, error) {
	m.calls.Add(1)
	if m.RenderFunc != nil {
		return m.RenderFunc(ctx, job, doc)
	}
	return "reports/" + job.ID.String() + ".pdf", nil
}

// Calls reports how many times Render has been invoked.
func (m *MockRenderer) Calls() int { return int(m.calls.Load()) }

// NewFailingRenderer returns a MockRenderer whose Render always fails with
// err wrapped in models.ErrRenderFailed.
func NewFailingRenderer(err error) *MockRenderer {
	return &MockRenderer{
		RenderFunc: func(_ context.Context, _ *models.ReportJob, _ *models.AnalysisDocument) (string, error) {
			return "", fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
		},
	}
}

var _ models.ArtifactRenderer = (*MockRenderer)(nil)
