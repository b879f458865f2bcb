// Package remote delegates analysis to an external HTTP service that
// accepts video metadata and returns an analysis document.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kiranshivaraju/scoutreport/internal/config"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 512

// Engine implements models.AnalysisEngine by POSTing to {base}/analyze.
type Engine struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewEngine(cfg config.RemoteAnalysisConfig) *Engine {
	return &Engine{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *Engine) Name() string { return "remote" }

type analyzeRequest struct {
	Video models.VideoMetadata `json:"video"`
}

type analyzeResponse struct {
	Data *models.AnalysisDocument `json:"data"`
}

func (e *Engine) Analyze(ctx context.Context, video models.VideoMetadata) (*models.AnalysisDocument, error) {
	body, err := json.Marshal(analyzeRequest{Video: video})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", models.ErrAnalysisFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", models.ErrAnalysisFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrAnalysisFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", models.ErrAnalysisFailed, err)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: response has no analysis document", models.ErrAnalysisFailed)
	}
	if out.Data.VideoID == "" {
		out.Data.VideoID = video.ID
	}
	return out.Data, nil
}

var _ models.AnalysisEngine = (*Engine)(nil)
