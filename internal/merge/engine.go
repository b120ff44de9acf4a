package merge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
	"pyxis/internal/services"
)

// Engine folds an identity's observations into its canonical profile.
type Engine struct {
	rules     atomic.Pointer[RuleSet]
	dissolver *geo.Dissolver
	logger    *slog.Logger
	now       func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the clock used to derive the avg_age reference year.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an engine over rules. A nil dissolver uses the default
// grid resolution.
func NewEngine(rules *RuleSet, dissolver *geo.Dissolver, logger *slog.Logger, opts ...EngineOption) *Engine {
	if dissolver == nil {
		dissolver = geo.NewDissolver(logger, geo.DefaultResolution)
	}
	e := &Engine{
		dissolver: dissolver,
		logger:    logging.NewComponentLogger(logger, "merge"),
		now:       time.Now,
	}
	if rules == nil {
		rules = &RuleSet{options: Options{WeightAttribute: field.AttrOilProd}}
	}
	e.rules.Store(rules)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the active rule set.
func (e *Engine) Rules() *RuleSet {
	return e.rules.Load()
}

// Reload swaps the active rule set. Merges already running keep the set they
// started with.
func (e *Engine) Reload(rules *RuleSet) {
	if rules == nil {
		return
	}
	e.rules.Store(rules)
	e.logger.Info("merge rules reloaded",
		logging.Int("rules", rules.Len()),
		logging.String(logging.FieldEventType, "merge_rules_reloaded"),
	)
}

// Merge computes the changes implied by observations for identity. Every
// observation must belong to identity. Attribute values are written only when
// they are non-null and differ from what is stored. Geometry failures are
// logged and reported on Changes.GeometrySkipped; they never fail the merge.
func (e *Engine) Merge(ctx context.Context, identity field.Identity, observations []field.Observation) (field.Changes, error) {
	changes := field.Changes{IdentityID: identity.ID}
	ordered := slices.Clone(observations)
	slices.SortFunc(ordered, func(a, b field.Observation) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	for _, obs := range ordered {
		if obs.IdentityID != identity.ID {
			return changes, fmt.Errorf("%w: observation %d belongs to identity %d, not %d", services.ErrInvalidTransition, obs.ID, obs.IdentityID, identity.ID)
		}
	}

	logger := logging.WithContext(services.WithIdentityID(ctx, identity.ID), e.logger)
	rules := e.rules.Load()
	opts := rules.Options()
	year := opts.CurrentYear
	if year == 0 {
		year = e.now().Year()
	}

	for _, rule := range rules.Rules() {
		samples := make([]Sample, 0, len(ordered))
		for _, obs := range ordered {
			sample := Sample{Value: obs.Value(rule.Attribute)}
			if rule.Method == MethodVolumeWeighted {
				sample.Weight = obs.Value(opts.WeightAttribute)
			}
			samples = append(samples, sample)
		}
		merged := ApplyRounding(Reduce(rule.Method, samples, year), rule.Round)
		if merged.IsNull() {
			continue
		}
		if merged.Equal(identity.Value(rule.Attribute)) {
			continue
		}
		if changes.Attributes == nil {
			changes.Attributes = field.Attributes{}
		}
		changes.Attributes.Set(rule.Attribute, merged)
	}

	geometry, err := e.mergeGeometry(identity, ordered)
	if err != nil {
		changes.GeometrySkipped = err
		logging.WarnWithContext(logger, "geometry merge skipped", "geometry_merge_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the observation geometries for this identity"),
			logging.String(logging.FieldImpact, "stored outline, centroid cell, and cell set left unchanged"),
		)
	}
	changes.Geometry = geometry

	logger.Debug("identity merged",
		logging.Int("observations", len(ordered)),
		logging.Int("attribute_changes", len(changes.Attributes)),
		logging.Bool("geometry_changed", changes.Geometry != nil),
	)
	return changes, nil
}

func (e *Engine) mergeGeometry(identity field.Identity, observations []field.Observation) (*field.GeometryChange, error) {
	inputs := make([]any, 0, len(observations))
	for _, obs := range observations {
		if len(obs.Geometry) > 0 {
			inputs = append(inputs, obs.Geometry)
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	dissolved, err := e.dissolver.Dissolve(inputs)
	if err != nil {
		return nil, err
	}
	if dissolved == nil {
		return nil, &services.GeometryError{Op: "dissolve", Err: geo.ErrEmpty}
	}
	if geo.SameShape(identity.Geometry, dissolved.Shape) && identity.CentroidCell == dissolved.CentroidCell {
		return nil, nil
	}
	cells, err := e.dissolver.Fill(dissolved.Shape)
	if err != nil {
		return nil, err
	}
	return &field.GeometryChange{
		WKB:          dissolved.WKB,
		CentroidCell: dissolved.CentroidCell,
		Cells:        cells,
	}, nil
}
