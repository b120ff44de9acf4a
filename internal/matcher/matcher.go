package matcher

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
)

// Candidate carries the matching keys of an incoming observation.
type Candidate struct {
	Name         string
	Country      string
	CentroidCell string
}

// Scored is one identity's score against a candidate.
type Scored struct {
	IdentityID int64
	NameScore  float64
	GeoScore   float64
	Score      float64
}

// Result describes the outcome of a match attempt. Identity is nil when no
// candidate reached the threshold.
type Result struct {
	Identity   *field.Identity
	Best       Scored
	Considered int
	TiedIDs    []int64
}

// Matched reports whether an existing identity was selected.
func (r Result) Matched() bool { return r.Identity != nil }

// Tied reports whether several identities shared the winning score.
func (r Result) Tied() bool { return len(r.TiedIDs) > 1 }

// Matcher scores observations against canonical identities by fuzzy name
// similarity and hexagonal grid proximity.
type Matcher struct {
	policy Policy
	logger *slog.Logger
}

// New constructs a matcher; zero policy fields fall back to defaults.
func New(policy Policy, logger *slog.Logger) *Matcher {
	return &Matcher{
		policy: policy.normalized(),
		logger: logging.NewComponentLogger(logger, "matcher"),
	}
}

// Policy returns the effective policy.
func (m *Matcher) Policy() Policy { return m.policy }

// NameScore returns the 0-100 similarity ratio of two lower-cased names.
// Blank names score 0.
func NameScore(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0
	}
	lower := cases.Lower(language.Und)
	a = lower.String(a)
	b = lower.String(b)
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 0
	}
	lcs := edlib.LCS(a, b)
	return math.RoundToEven(100 * 2 * float64(lcs) / float64(total))
}

// GeoScore converts the grid distance between two centroid cells into a score.
// Both cells absent scores 0; one absent, too far, or incomparable scores the
// far penalty.
func (m *Matcher) GeoScore(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "" && b == "":
		return 0
	case a == "" || b == "":
		return m.policy.FarPenalty
	}
	distance, err := geo.GridDistance(a, b)
	if err != nil {
		m.logger.Debug("grid distance unavailable",
			logging.String("cell_a", a),
			logging.String("cell_b", b),
			logging.Error(err),
		)
		return m.policy.FarPenalty
	}
	if distance >= m.policy.MaxGridDistance {
		return m.policy.FarPenalty
	}
	scaled := float64(distance) * m.policy.DecayFactor
	return 100 * math.Exp(-0.5*scaled*scaled)
}

// Score combines name and geo sub-scores for one identity.
func (m *Matcher) Score(c Candidate, identity field.Identity) Scored {
	name := NameScore(c.Name, identity.Name)
	geoScore := m.GeoScore(c.CentroidCell, identity.CentroidCell)
	return Scored{
		IdentityID: identity.ID,
		NameScore:  name,
		GeoScore:   geoScore,
		Score:      m.policy.NameWeight*name + m.policy.GeoWeight*geoScore,
	}
}

// Match scans the pool and returns the highest scoring identity at or above
// the threshold. Ties at the top score go to the lowest identity id.
func (m *Matcher) Match(c Candidate, pool []field.Identity) Result {
	if strings.TrimSpace(c.Name) == "" {
		m.logger.Debug("match skipped",
			logging.Args(logging.DecisionAttrs("identity_match", "new", "observation has no name")...)...)
		return Result{}
	}

	var (
		result  Result
		bestIdx = -1
	)
	for i := range pool {
		identity := pool[i]
		if m.policy.CountryPrefilter && c.Country != "" && identity.Country != c.Country {
			continue
		}
		result.Considered++
		scored := m.Score(c, identity)
		switch {
		case bestIdx < 0 || scored.Score > result.Best.Score:
			bestIdx = i
			result.Best = scored
			result.TiedIDs = []int64{identity.ID}
		case scored.Score == result.Best.Score:
			result.TiedIDs = append(result.TiedIDs, identity.ID)
			if identity.ID < result.Best.IdentityID {
				bestIdx = i
				result.Best = scored
			}
		}
	}

	if bestIdx < 0 || result.Best.Score < m.policy.Threshold {
		m.logger.Debug("no identity reached threshold",
			logging.Args(append(logging.DecisionAttrs("identity_match", "new", "below threshold"),
				logging.String("name", c.Name),
				logging.Int("considered", result.Considered),
				logging.Float64("best_score", result.Best.Score),
			)...)...)
		result.TiedIDs = nil
		return result
	}

	matched := pool[bestIdx]
	result.Identity = &matched
	reason := "score " + strconv.FormatFloat(result.Best.Score, 'f', 2, 64)
	if result.Tied() {
		reason += ", tie resolved to lowest id"
	}
	m.logger.Debug("identity matched",
		logging.Args(append(logging.DecisionAttrs("identity_match", "existing", reason),
			logging.Int64(logging.FieldIdentityID, matched.ID),
			logging.String("name", c.Name),
			logging.Float64("name_score", result.Best.NameScore),
			logging.Float64("geo_score", result.Best.GeoScore),
		)...)...)
	return result
}
