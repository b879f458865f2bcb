// Package stub provides a deterministic stand-in analysis engine. It does
// not look at the video; it derives a plausible scouting document from the
// video id so the same video always yields the same report.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

var positions = []string{"PG", "SG", "SF", "PF", "C"}

var playerStrengths = []string{
	"Good outside shooter",
	"Strong finisher at the rim",
	"Excellent passer",
	"Good ball handler",
	"Strong rebounder",
	"Good defender",
	"High basketball IQ",
	"Athletic",
	"Good post moves",
	"Quick first step",
	"Good free throw shooter",
}

var playerWeaknesses = []string{
	"Poor outside shooter",
	"Weak finisher at the rim",
	"Poor passer",
	"Turnover prone",
	"Weak rebounder",
	"Poor defender",
	"Low basketball IQ",
	"Unathletic",
	"Poor post moves",
	"Slow first step",
	"Poor free throw shooter",
}

var strategyNotes = []string{
	"Force to the left, prefers right hand",
	"Sags off on defense, can be exploited by shooters",
	"Aggressive on defense, can be beaten with pump fakes",
	"Prefers to shoot from the corners",
	"Struggles against physical defenders",
	"Tends to over-help on defense",
	"Hesitant to shoot from outside",
	"Predictable post moves",
	"Tends to force shots when pressured",
	"Slow to get back on defense",
}

var defensiveSchemes = []string{"Man-to-Man", "Zone", "Switch Everything", "Mixed"}

var teamStrengths = []string{
	"Good 3-point shooting team",
	"Strong rebounding team",
	"Good ball movement",
	"Strong defensive team",
	"Good transition team",
	"Disciplined, low turnovers",
	"Good free throw shooting team",
	"Strong inside presence",
	"Athletic team",
	"Experienced team",
}

var teamWeaknesses = []string{
	"Poor 3-point shooting team",
	"Weak rebounding team",
	"Poor ball movement",
	"Weak defensive team",
	"Poor transition team",
	"Turnover prone",
	"Poor free throw shooting team",
	"Lack inside presence",
	"Unathletic team",
	"Inexperienced team",
}

var recommendedStrategies = []string{
	"Push the pace and exploit their poor transition defense",
	"Slow the game down and force them into half-court sets",
	"Attack the basket and draw fouls",
	"Utilize pick and roll to exploit their poor defensive rotations",
	"Spread the floor and utilize outside shooting",
	"Pack the paint and force outside shots",
	"Apply full-court pressure to force turnovers",
	"Switch all screens to disrupt their offensive flow",
	"Use zone defense to limit their inside scoring",
	"Focus on defensive rebounding to limit second-chance points",
}

// Engine implements models.AnalysisEngine without any real video analysis.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Name() string { return "stub" }

func (e *Engine) Analyze(ctx context.Context, video models.VideoMetadata) (*models.AnalysisDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, err)
	}
	if video.ID == "" {
		return nil, fmt.Errorf("%w: video has no id", models.ErrAnalysisFailed)
	}

	r := rand.New(rand.NewPCG(seed(video.ID), 0x5c0a7))

	players := make([]models.PlayerAnalysis, 5+r.IntN(8))
	for i := range players {
		players[i] = player(r, i)
	}

	return &models.AnalysisDocument{
		VideoID:    video.ID,
		VideoTitle: video.Title,
		AnalyzedAt: e.now(),
		Team: models.TeamAnalysis{
			TeamName:            "Opponent Team",
			Players:             players,
			OffensiveStyle:      ratings(r, "pace", "spacing", "ball_movement", "post_play", "transition"),
			DefensiveStyle:      ratings(r, "pressure", "help", "rebounding", "transition"),
			DefensiveScheme:     pick(r, defensiveSchemes),
			TeamStrengths:       sample(r, teamStrengths, 3+r.IntN(3)),
			TeamWeaknesses:      sample(r, teamWeaknesses, 3+r.IntN(3)),
			RecommendedStrategy: pick(r, recommendedStrategies),
		},
	}, nil
}

func player(r *rand.Rand, i int) models.PlayerAnalysis {
	feet := 6 + r.IntN(2)
	inches := r.IntN(12)
	if feet == 7 {
		inches = r.IntN(3)
	}
	return models.PlayerAnalysis{
		JerseyNumber:       r.IntN(100),
		Name:               fmt.Sprintf("Player %d", i+1),
		Position:           positions[i%len(positions)],
		Height:             fmt.Sprintf("%d'%d\"", feet, inches),
		PhysicalAttributes: ratings(r, "speed", "strength", "agility", "vertical", "endurance"),
		OffensiveRole:      ratings(r, "scoring", "passing", "ball_handling", "shooting", "post_play"),
		DefensiveRole:      ratings(r, "on_ball", "off_ball", "rebounding", "shot_blocking", "steals"),
		Strengths:          sample(r, playerStrengths, 2+r.IntN(3)),
		Weaknesses:         sample(r, playerWeaknesses, 2+r.IntN(3)),
		StrategyNotes:      pick(r, strategyNotes),
	}
}

// ratings assigns each key a score from 1 to 10. Keys are drawn in the
// order given so the output is stable for a given seed.
func ratings(r *rand.Rand, keys ...string) map[string]int {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = 1 + r.IntN(10)
	}
	return out
}

func sample(r *rand.Rand, opts []string, n int) []string {
	out := make([]string, 0, n)
	for _, i := range r.Perm(len(opts))[:n] {
		out = append(out, opts[i])
	}
	return out
}

func pick(r *rand.Rand, opts []string) string {
	return opts[r.IntN(len(opts))]
}

func seed(videoID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(videoID))
	return h.Sum64()
}

var _ models.AnalysisEngine = (*Engine)(nil)
