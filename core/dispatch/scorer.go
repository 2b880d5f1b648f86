package dispatch

import (
	"math"
	"sort"

	"github.com/kilianp07/wastedispatch/core/model"
)

// MissingDistanceMeters is used when either the pickup point or the
// collector position is unknown. It drives the distance component to zero
// without disqualifying the collector.
const MissingDistanceMeters = 999999.0

// Weights balances the score components. They are expected to sum to 1.
type Weights struct {
	Distance     float64 `json:"distance" koanf:"distance"`
	Experience   float64 `json:"experience" koanf:"experience"`
	Availability float64 `json:"availability" koanf:"availability"`
}

// DefaultWeights favours proximity.
func DefaultWeights() Weights {
	return Weights{Distance: 0.6, Experience: 0.2, Availability: 0.2}
}

// Breakdown holds the per-component scores, each in [0, 100].
type Breakdown struct {
	Distance     float64 `json:"distance"`
	Experience   float64 `json:"experience"`
	Availability float64 `json:"availability"`
}

// Candidate is a scored collector.
type Candidate struct {
	Collector      model.Collector `json:"collector"`
	DistanceMeters float64         `json:"distance_m"`
	Score          float64         `json:"score"`
	Breakdown      Breakdown       `json:"breakdown"`
}

// Scorer ranks collectors for a mission. It is pure and safe for concurrent use.
type Scorer struct {
	Weights Weights
}

// NewScorer returns a scorer using the default weights.
func NewScorer() Scorer {
	return Scorer{Weights: DefaultWeights()}
}

// Score returns the candidates sorted by total score, highest first. Equal
// scores keep the input order.
func (s Scorer) Score(m model.Mission, collectors []model.Collector) []Candidate {
	w := s.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	out := make([]Candidate, len(collectors))
	for i, c := range collectors {
		d := distance(m.Pickup, c.Position)
		b := Breakdown{
			Distance:     math.Max(0, 100-d/100),
			Experience:   math.Min(100, float64(c.CompletedMissions)*2),
			Availability: math.Max(0, 100-float64(c.ActiveMissions)*33),
		}
		out[i] = Candidate{
			Collector:      c,
			DistanceMeters: d,
			Breakdown:      b,
			Score:          b.Distance*w.Distance + b.Experience*w.Experience + b.Availability*w.Availability,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func distance(pickup *model.Point, pos *model.Position) float64 {
	if pickup == nil || pos == nil {
		return MissingDistanceMeters
	}
	return model.DistanceMeters(*pickup, pos.Point)
}
