package models

import (
	"context"
	"maps"
	"slices"
	"time"
)

// VideoMetadata describes a previously uploaded video as reported by the
// video service.
type VideoMetadata struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	DurationSeconds  float64 `json:"duration_seconds"`
	PlayableLocation string  `json:"playable_location"`
	ContentType      string  `json:"content_type,omitempty"`
}

// PlayerAnalysis is the scouting breakdown for a single player. Attribute
// maps hold ratings from 1 to 10.
type PlayerAnalysis struct {
	JerseyNumber       int            `json:"jersey_number"`
	Name               string         `json:"name"`
	Position           string         `json:"position"`
	Height             string         `json:"height"`
	PhysicalAttributes map[string]int `json:"physical_attributes"`
	OffensiveRole      map[string]int `json:"offensive_role"`
	DefensiveRole      map[string]int `json:"defensive_role"`
	Strengths          []string       `json:"strengths"`
	Weaknesses         []string       `json:"weaknesses"`
	StrategyNotes      string         `json:"strategy_notes"`
}

// TeamAnalysis is the team-level characterization plus its players.
type TeamAnalysis struct {
	TeamName            string           `json:"team_name"`
	Players             []PlayerAnalysis `json:"players"`
	OffensiveStyle      map[string]int   `json:"offensive_style"`
	DefensiveStyle      map[string]int   `json:"defensive_style"`
	DefensiveScheme     string           `json:"defensive_scheme"`
	TeamStrengths       []string         `json:"team_strengths"`
	TeamWeaknesses      []string         `json:"team_weaknesses"`
	RecommendedStrategy string           `json:"recommended_strategy"`
}

// AnalysisDocument is what an AnalysisEngine produces and what a completed
// report stores verbatim. The pipeline only requires it to round-trip
// through JSON.
type AnalysisDocument struct {
	VideoID    string       `json:"video_id"`
	VideoTitle string       `json:"video_title"`
	AnalyzedAt time.Time    `json:"analyzed_at"`
	Team       TeamAnalysis `json:"team_analysis"`
}

// Clone returns a deep copy of d.
func (d *AnalysisDocument) Clone() *AnalysisDocument {
	c := *d
	c.Team.TeamStrengths = slices.Clone(d.Team.TeamStrengths)
	c.Team.TeamWeaknesses = slices.Clone(d.Team.TeamWeaknesses)
	c.Team.OffensiveStyle = maps.Clone(d.Team.OffensiveStyle)
	c.Team.DefensiveStyle = maps.Clone(d.Team.DefensiveStyle)
	if d.Team.Players != nil {
		c.Team.Players = make([]PlayerAnalysis, len(d.Team.Players))
		for i, p := range d.Team.Players {
			p.PhysicalAttributes = maps.Clone(p.PhysicalAttributes)
			p.OffensiveRole = maps.Clone(p.OffensiveRole)
			p.DefensiveRole = maps.Clone(p.DefensiveRole)
			p.Strengths = slices.Clone(p.Strengths)
			p.Weaknesses = slices.Clone(p.Weaknesses)
			c.Team.Players[i] = p
		}
	}
	return &c
}

// AnalysisEngine turns video metadata into an AnalysisDocument.
// Implementations wrap ErrAnalysisFailed on failure.
type AnalysisEngine interface {
	Analyze(ctx context.Context, video VideoMetadata) (*AnalysisDocument, error)
	Name() string
}

// ArtifactRenderer persists a rendered report for a job and returns its
// storage location. Rendering the same job twice overwrites the earlier
// artifact. Implementations wrap ErrRenderFailed on failure.
type ArtifactRenderer interface {
	Render(ctx context.Context, job *ReportJob, doc *AnalysisDocument) (string, error)
}
