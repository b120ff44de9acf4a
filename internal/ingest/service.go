package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"pyxis/internal/config"
	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
	"pyxis/internal/matcher"
	"pyxis/internal/merge"
	"pyxis/internal/metrics"
	"pyxis/internal/registry"
	"pyxis/internal/services"
)

// Service coordinates batch submission, processing, and the canonical read
// surface.
type Service struct {
	store       *registry.Store
	matcher     *matcher.Matcher
	engine      *merge.Engine
	extractor   *Extractor
	resolution  int
	nearestRing int
	logger      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithNearestRing sets the default search radius, in cells, for
// NearestCanonical.
func WithNearestRing(ring int) Option {
	return func(s *Service) {
		if ring > 0 {
			s.nearestRing = ring
		}
	}
}

// New wires a service from its collaborators. The extractor's resolution is
// the grid resolution used everywhere.
func New(store *registry.Store, m *matcher.Matcher, engine *merge.Engine, extractor *Extractor, logger *slog.Logger, opts ...Option) *Service {
	if extractor == nil {
		extractor = NewExtractor(nil, geo.DefaultResolution, logger)
	}
	s := &Service{
		store:       store,
		matcher:     m,
		engine:      engine,
		extractor:   extractor,
		resolution:  extractor.resolution,
		nearestRing: 10,
		logger:      logging.NewComponentLogger(logger, "ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesFromConfig builds the merge rule set declared in cfg.
func RulesFromConfig(cfg *config.Config) (*merge.RuleSet, error) {
	specs := make(map[string]merge.RuleSpec, len(cfg.Merge.Rules))
	for attr, rule := range cfg.Merge.Rules {
		specs[attr] = merge.RuleSpec{Method: rule.Method, Round: rule.Round}
	}
	return merge.NewRuleSet(specs, merge.Options{
		WeightAttribute: cfg.Merge.WeightAttribute,
		CurrentYear:     cfg.Merge.CurrentYear,
	})
}

// PolicyFromConfig converts the [matching] section into a matcher policy.
func PolicyFromConfig(cfg *config.Config) matcher.Policy {
	return matcher.Policy{
		NameWeight:       cfg.Matching.NameWeight,
		GeoWeight:        cfg.Matching.GeoWeight,
		Threshold:        cfg.Matching.Threshold,
		MaxGridDistance:  cfg.Matching.MaxGridDistance,
		DecayFactor:      cfg.Matching.DecayFactor,
		FarPenalty:       cfg.Matching.FarPenalty,
		CountryPrefilter: cfg.Matching.CountryPrefilter,
	}
}

// NewFromConfig builds the matcher, merge engine, and extractor described by
// cfg. A nil converter only accepts values already in catalog units.
func NewFromConfig(cfg *config.Config, store *registry.Store, units UnitConverter, logger *slog.Logger) (*Service, error) {
	rules, err := RulesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	resolution := cfg.Spatial.Resolution
	engine := merge.NewEngine(rules, geo.NewDissolver(logger, resolution), logger)
	return New(
		store,
		matcher.New(PolicyFromConfig(cfg), logger),
		engine,
		NewExtractor(units, resolution, logger),
		logger,
		WithNearestRing(cfg.Spatial.NearestRing),
	), nil
}

// Engine exposes the merge engine so callers can reload its rules.
func (s *Service) Engine() *merge.Engine { return s.engine }

// Submission is an upload waiting to become a batch.
type Submission struct {
	SourceName string
	RecordID   string
	Version    string
	Alias      string
	FileName   string
	Mapping    []byte
	Payload    []byte
}

// Submitted is the stored batch plus earlier batches with identical content.
type Submitted struct {
	Batch      *registry.Batch
	Duplicates []*registry.Batch
}

// Submit validates the mapping against the payload and stores a pending batch.
// Identical resubmissions are accepted with a warning.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Submitted, error) {
	m, err := ParseMapping(sub.Mapping)
	if err != nil {
		return nil, err
	}
	header, rows, err := readCSV(sub.Payload, m.CSV())
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if err := checkColumns(header, m); err != nil {
		return nil, err
	}

	dataSum := checksum(sub.Payload)
	mappingSum := checksum(sub.Mapping)
	duplicates, err := s.store.FindBatchesByChecksum(ctx, dataSum, mappingSum)
	if err != nil {
		return nil, err
	}
	if len(duplicates) > 0 {
		ids := make([]string, 0, len(duplicates))
		for _, d := range duplicates {
			ids = append(ids, strconv.FormatInt(d.ID, 10))
		}
		logging.WarnWithContext(s.logger, "duplicate upload", "batch_duplicate",
			logging.String("file_name", sub.FileName),
			logging.String("previous_batches", strings.Join(ids, ",")),
			logging.String(logging.FieldErrorHint, "the same data and mapping were already submitted"),
			logging.String(logging.FieldImpact, "observations will be recorded again"),
		)
	}

	sourceName := sub.SourceName
	if strings.TrimSpace(sourceName) == "" {
		sourceName = m.Data.Name
	}
	version := sub.Version
	if strings.TrimSpace(version) == "" {
		version = m.Data.Version
	}
	b, err := s.store.CreateBatch(ctx, registry.NewBatch{
		SourceName:      sourceName,
		RecordID:        sub.RecordID,
		Version:         version,
		Alias:           sub.Alias,
		FileName:        sub.FileName,
		Mapping:         sub.Mapping,
		Payload:         sub.Payload,
		DataChecksum:    dataSum,
		MappingChecksum: mappingSum,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("batch accepted", logging.Int64(logging.FieldBatchID, b.ID), logging.Int("rows", len(rows)))
	return &Submitted{Batch: b, Duplicates: duplicates}, nil
}

func checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// checkColumns rejects mappings whose source columns are missing from the
// payload header.
func checkColumns(header []string, m *Mapping) error {
	var missing []string
	for _, cm := range m.Mappings {
		if col := strings.TrimSpace(cm.SourceAttribute); !slices.Contains(header, col) {
			missing = append(missing, col)
		}
	}
	if col := m.GeometryColumn(); col != "" && !slices.Contains(header, col) && !slices.Contains(missing, col) {
		missing = append(missing, col)
	}
	if len(missing) > 0 {
		return &services.ConfigError{Field: "mappings", Reason: "columns missing from data: " + strings.Join(missing, ", ")}
	}
	return nil
}

// BatchStatus is the externally visible state of a batch.
type BatchStatus struct {
	Batch        *registry.Batch
	Observations int
	Diagnostics  []registry.Diagnostic
}

// Status reports a batch's state, processed observation count, and
// diagnostics.
func (s *Service) Status(ctx context.Context, batchID int64) (*BatchStatus, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	b.Payload = nil
	count, err := s.store.ObservationCount(ctx, batchID)
	if err != nil {
		return nil, err
	}
	diags, err := s.store.Diagnostics(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Batch: b, Observations: count, Diagnostics: diags}, nil
}

// Process claims a pending batch and runs it to completion or failure.
// Cancelling ctx stops the wait for a batch slot; once claimed, the batch
// runs to the end regardless.
func (s *Service) Process(ctx context.Context, batchID int64) error {
	release, err := s.store.AcquireBatchSlot(ctx)
	if err != nil {
		return err
	}
	defer release()
	b, err := s.store.Claim(ctx, batchID)
	if err != nil {
		return err
	}
	return s.run(ctx, b)
}

// ProcessNext claims and runs the oldest pending batch. It returns a nil batch
// when nothing is pending. Cancellation behaves as for Process.
func (s *Service) ProcessNext(ctx context.Context) (*registry.Batch, error) {
	release, err := s.store.AcquireBatchSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	b, err := s.store.ClaimNext(ctx)
	if err != nil || b == nil {
		return nil, err
	}
	return b, s.run(ctx, b)
}

// batchStats are published to metrics only once a batch commits.
type batchStats struct {
	rows         int
	observations int
	created      int
	matched      int
	scores       []float64
	merges       int
	changes      map[string]int
	geometrySkip int
	conversions  map[string]int
}

func (st *batchStats) publish() {
	metrics.RowsTotal.Add(float64(st.rows))
	metrics.ObservationsTotal.Add(float64(st.observations))
	metrics.IdentitiesCreatedTotal.Add(float64(st.created))
	metrics.MatchesTotal.WithLabelValues(metrics.DecisionNew).Add(float64(st.created))
	metrics.MatchesTotal.WithLabelValues(metrics.DecisionExisting).Add(float64(st.matched))
	for _, score := range st.scores {
		metrics.MatchScore.Observe(score)
	}
	metrics.MergesTotal.Add(float64(st.merges))
	for attr, n := range st.changes {
		metrics.MergeChangesTotal.WithLabelValues(attr).Add(float64(n))
	}
	metrics.GeometrySkippedTotal.Add(float64(st.geometrySkip))
	for attr, n := range st.conversions {
		metrics.ConversionErrorsTotal.WithLabelValues(attr).Add(float64(n))
	}
}

// run executes a claimed batch detached from ctx's cancellation so a
// shutdown waits for it instead of rolling it back.
func (s *Service) run(ctx context.Context, b *registry.Batch) error {
	ctx = services.WithBatchID(context.WithoutCancel(ctx), b.ID)
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()
	logger.Info("batch processing started",
		logging.String("file_name", b.FileName),
		logging.String(logging.FieldEventType, "batch_started"),
	)

	stats := &batchStats{changes: map[string]int{}, conversions: map[string]int{}}
	diags, err := s.execute(ctx, b, stats)
	metrics.BatchDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.BatchesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		logging.ErrorWithContext(logger, "batch processing failed", "batch_failed",
			logging.Error(err),
			logging.String("error_category", services.Category(err)),
			logging.String(logging.FieldErrorHint, "fix the cause and run pyxis batch retry"),
		)
		if failErr := s.store.Fail(ctx, b.ID, err.Error(), diags); failErr != nil {
			return errors.Join(err, failErr)
		}
		return err
	}

	stats.publish()
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	logger.Info("batch processing completed",
		logging.Int("rows", stats.rows),
		logging.Int("observations", stats.observations),
		logging.Int("identities_created", stats.created),
		logging.Int("identities_merged", stats.merges),
		logging.Int("diagnostics", len(diags)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "batch_completed"),
	)
	return nil
}

// execute runs the whole batch in one transaction. Row-level problems become
// diagnostics; any returned error rolls back everything the batch wrote.
func (s *Service) execute(ctx context.Context, b *registry.Batch, stats *batchStats) ([]registry.Diagnostic, error) {
	m, err := ParseMapping(b.Mapping)
	if err != nil {
		return nil, err
	}
	rows, err := ReadCSV(b.Payload, m.CSV())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "read payload", "", err)
	}
	stats.rows = len(rows)

	var diags []registry.Diagnostic
	err = s.store.WithTx(ctx, func(tx *registry.Tx) error {
		pool := newCandidatePool(tx, s.matcher.Policy().CountryPrefilter)
		touched := map[int64]struct{}{}

		for _, row := range rows {
			rowCtx := services.WithPhase(ctx, "match")
			identityID, rowDiags, err := s.ingestRow(rowCtx, tx, pool, b.ID, row, m, stats)
			diags = append(diags, rowDiags...)
			if err != nil {
				return err
			}
			if identityID != 0 {
				touched[identityID] = struct{}{}
			}
		}

		ids := make([]int64, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			changes, err := s.mergeIdentity(services.WithPhase(ctx, "merge"), tx, id)
			if err != nil {
				return err
			}
			stats.merges++
			for attr := range changes.Attributes {
				stats.changes[attr]++
			}
			if changes.Geometry != nil {
				stats.changes[field.AttrGeometry]++
			}
			if changes.GeometrySkipped != nil {
				stats.geometrySkip++
				diags = append(diags, registry.Diagnostic{
					Kind:      registry.DiagnosticGeometry,
					Attribute: field.AttrGeometry,
					Message:   fmt.Sprintf("identity %d: %v", id, changes.GeometrySkipped),
				})
			}
		}

		return tx.CompleteBatch(ctx, b.ID, registry.Completion{
			Rows:              len(rows),
			TouchedIdentities: len(ids),
			Diagnostics:       diags,
		})
	})
	return diags, err
}

func (s *Service) ingestRow(ctx context.Context, tx *registry.Tx, pool *candidatePool, batchID int64, row Row, m *Mapping, stats *batchStats) (int64, []registry.Diagnostic, error) {
	ex := s.extractor.Extract(row, m)
	var diags []registry.Diagnostic
	for _, failure := range ex.Failures() {
		kind := registry.DiagnosticConversion
		if errors.Is(failure.Err, services.ErrGeometry) {
			kind = registry.DiagnosticGeometry
		} else {
			stats.conversions[failure.Attribute]++
		}
		diags = append(diags, registry.Diagnostic{Row: row.Number, Kind: kind, Attribute: failure.Attribute, Message: failure.Err.Error()})
	}

	obs := ex.Observation
	if emptyObservation(obs) {
		diags = append(diags, registry.Diagnostic{Row: row.Number, Kind: registry.DiagnosticRow, Message: "row has no usable values"})
		return 0, diags, nil
	}

	candidates, err := pool.For(ctx, obs.Country)
	if err != nil {
		return 0, diags, err
	}
	result := s.matcher.Match(matcher.Candidate{Name: obs.Name, Country: obs.Country, CentroidCell: obs.CentroidCell}, candidates)
	if result.Considered > 0 {
		stats.scores = append(stats.scores, result.Best.Score)
	}

	var identity field.Identity
	if result.Matched() {
		identity = *result.Identity
		stats.matched++
		if result.Tied() {
			diags = append(diags, registry.Diagnostic{
				Row:     row.Number,
				Kind:    registry.DiagnosticAmbiguity,
				Message: fmt.Sprintf("%v: identities %v tied at %.2f, chose %d", services.ErrMatchAmbiguity, result.TiedIDs, result.Best.Score, identity.ID),
			})
		}
	} else {
		identity, err = tx.CreateIdentity(ctx, registry.NewIdentity{Name: obs.Name, Country: obs.Country, CentroidCell: obs.CentroidCell})
		if err != nil {
			return 0, diags, err
		}
		pool.Add(identity)
		stats.created++
	}

	obs.IdentityID = identity.ID
	obs.BatchID = batchID
	if _, err := tx.InsertObservation(ctx, obs); err != nil {
		return 0, diags, err
	}
	stats.observations++
	return identity.ID, diags, nil
}

func emptyObservation(obs field.Observation) bool {
	return strings.TrimSpace(obs.Name) == "" &&
		strings.TrimSpace(obs.Country) == "" &&
		!obs.HasLocation() &&
		len(obs.Geometry) == 0 &&
		len(obs.Attributes) == 0 &&
		len(obs.Additional) == 0
}

// mergeIdentity locks an identity, folds in all its observations, and
// persists the delta.
func (s *Service) mergeIdentity(ctx context.Context, tx *registry.Tx, id int64) (field.Changes, error) {
	identity, err := tx.LockIdentity(ctx, id)
	if err != nil {
		return field.Changes{}, err
	}
	observations, err := tx.ObservationsFor(ctx, id)
	if err != nil {
		return field.Changes{}, err
	}
	changes, err := s.engine.Merge(ctx, identity, observations)
	if err != nil {
		return field.Changes{}, err
	}
	if changes.Empty() {
		return changes, nil
	}
	if _, err := tx.ApplyMerge(ctx, changes); err != nil {
		return field.Changes{}, err
	}
	return changes, nil
}

// Remerge recomputes one identity from its observations with the active rules.
func (s *Service) Remerge(ctx context.Context, identityID int64) (field.Changes, error) {
	ctx = services.WithIdentityID(ctx, identityID)
	var changes field.Changes
	err := s.store.WithTx(ctx, func(tx *registry.Tx) error {
		var err error
		changes, err = s.mergeIdentity(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return field.Changes{}, err
	}
	metrics.MergesTotal.Inc()
	for attr := range changes.Attributes {
		metrics.MergeChangesTotal.WithLabelValues(attr).Inc()
	}
	return changes, nil
}

// GetCanonical loads an identity by numeric id or external code.
func (s *Service) GetCanonical(ctx context.Context, ref string) (field.Identity, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.store.GetIdentity(ctx, id)
	}
	return s.store.GetIdentityByCode(ctx, ref)
}

// ListCanonical lists identities matching filter.
func (s *Service) ListCanonical(ctx context.Context, filter registry.Filter) ([]field.Identity, error) {
	return s.store.ListIdentities(ctx, filter)
}

// NearestCanonical returns up to limit identities near a point. A ring of
// zero uses the configured search radius.
func (s *Service) NearestCanonical(ctx context.Context, lat, lon float64, ring, limit int) ([]registry.Nearby, error) {
	if ring <= 0 {
		ring = s.nearestRing
	}
	return s.store.NearestIdentities(ctx, lat, lon, s.resolution, ring, limit)
}

// Observations lists the observations folded into an identity.
func (s *Service) Observations(ctx context.Context, identityID int64) ([]field.Observation, error) {
	return s.store.ObservationsFor(ctx, identityID)
}
