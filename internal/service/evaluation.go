package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/godilite/valuation-server/internal/metrics"
	"github.com/godilite/valuation-server/internal/opportunity"
	"github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/valuation"
)

const (
	dbTimeout                = 2 * time.Second
	defaultEvaluationTimeout = 2 * time.Second
	defaultCacheTTL          = 10 * time.Minute
)

// opportunityNamespace seeds deterministic opportunity ids.
var opportunityNamespace = uuid.MustParse("6f1c2d7e-8a4b-4c1e-9d0f-5b3a7e2c9a11")

// OpportunityID derives the stable id of a driver's opportunity within an evaluation.
func OpportunityID(evaluationID, driver string) string {
	return uuid.NewSHA1(opportunityNamespace, []byte(evaluationID+"/"+driver)).String()
}

func evaluationCacheKey(id string) string {
	return "evaluation:" + id
}

// EvaluationService owns the evaluation lifecycle: it runs the valuation
// pipeline, persists immutable snapshots and enforces ownership.
type EvaluationService struct {
	storage    EvaluationRepository
	cache      Cacher
	benchmarks Benchmarks
	schema     *questionnaire.Schema
	runner     *valuation.Runner
	reconciler valuation.Reconciler
	generator  *opportunity.Generator
	policy     CompletenessPolicy
	logger     *zap.Logger
	sf         singleflight.Group

	cacheTTL          time.Duration
	evaluationTimeout time.Duration
	now               func() time.Time
	newID             func() string
}

type Option func(*EvaluationService)

func WithCache(c Cacher) Option {
	return func(s *EvaluationService) { s.cache = c }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *EvaluationService) { s.cacheTTL = ttl }
}

func WithPolicy(p CompletenessPolicy) Option {
	return func(s *EvaluationService) { s.policy = p }
}

func WithSchema(schema *questionnaire.Schema) Option {
	return func(s *EvaluationService) { s.schema = schema }
}

func WithRunner(r *valuation.Runner) Option {
	return func(s *EvaluationService) { s.runner = r }
}

func WithReconciler(r valuation.Reconciler) Option {
	return func(s *EvaluationService) { s.reconciler = r }
}

func WithEvaluationTimeout(d time.Duration) Option {
	return func(s *EvaluationService) { s.evaluationTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *EvaluationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *EvaluationService) { s.newID = newID }
}

// NewEvaluationService creates a new EvaluationService instance.
func NewEvaluationService(storage EvaluationRepository, benchmarks Benchmarks, logger *zap.Logger, opts ...Option) *EvaluationService {
	if storage == nil {
		panic("storage must not be nil")
	}
	if benchmarks == nil {
		panic("benchmarks must not be nil")
	}
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l
	}

	s := &EvaluationService{
		storage:           storage,
		benchmarks:        benchmarks,
		schema:            questionnaire.DefaultSchema(),
		reconciler:        valuation.DefaultReconciler(),
		policy:            DefaultPolicy(),
		logger:            logger.Named("evaluation"),
		cacheTTL:          defaultCacheTTL,
		evaluationTimeout: defaultEvaluationTimeout,
		now:               time.Now,
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = valuation.NewRunner(logger, 0)
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.evaluationTimeout <= 0 {
		s.evaluationTimeout = defaultEvaluationTimeout
	}
	s.generator = opportunity.NewGenerator(s.runner)
	return s
}

func authorize(actor Actor, ownerID string) error {
	if actor.ID == "" {
		return ErrMissingActor
	}
	if actor.Role == RoleAdmin || actor.ID == ownerID {
		return nil
	}
	return ErrNotOwner
}

// CreateEvaluation validates a submission, computes it and persists it as a
// new root evaluation owned by the actor.
func (s *EvaluationService) CreateEvaluation(ctx context.Context, actor Actor, resp questionnaire.Response) (models.Evaluation, error) {
	if actor.ID == "" {
		return models.Evaluation{}, ErrMissingActor
	}
	return s.evaluate(ctx, actor, resp, nil)
}

// ReEvaluate creates a new evaluation superseding priorID. The prior record is
// never modified; concurrent re-evaluations of one prior all succeed.
func (s *EvaluationService) ReEvaluate(ctx context.Context, actor Actor, priorID string, resp questionnaire.Response) (models.Evaluation, error) {
	prior, err := s.load(ctx, priorID)
	if err != nil {
		return models.Evaluation{}, err
	}
	if err := authorize(actor, prior.OwnerID); err != nil {
		return models.Evaluation{}, err
	}
	if prior.Deleted() {
		return models.Evaluation{}, fmt.Errorf("%w: evaluation %s is deleted", ErrInvalidTransition, priorID)
	}

	ev, err := s.evaluate(ctx, actor, resp, &prior)
	if err != nil {
		return models.Evaluation{}, err
	}
	s.refresh(ctx, priorID)
	return ev, nil
}

func (s *EvaluationService) evaluate(ctx context.Context, actor Actor, resp questionnaire.Response, prior *models.Evaluation) (models.Evaluation, error) {
	start := s.now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObserveEvaluation(s.now().Sub(start), outcome) }()

	facts, err := s.schema.Validate(resp, s.benchmarks)
	if err != nil {
		outcome = metrics.OutcomeRejected
		return models.Evaluation{}, err
	}
	if err := s.policy.Check(facts); err != nil {
		outcome = metrics.OutcomeRejected
		return models.Evaluation{}, err
	}

	ev := models.Evaluation{
		ID:             s.newID(),
		OwnerID:        actor.ID,
		Version:        1,
		CreatedAt:      s.now().UTC(),
		Facts:          facts,
		DataConfidence: s.schema.Completeness(facts),
	}
	if prior != nil {
		ev.OwnerID = prior.OwnerID
		ev.Version = prior.Version + 1
		id := prior.ID
		ev.Supersedes = &id
	}

	s.compute(ctx, &ev)

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if err := s.storage.CreateEvaluation(dbCtx, ev); err != nil {
		s.logger.Error("failed to persist evaluation", zap.String("evaluation_id", ev.ID), zap.Error(err))
		if errors.Is(err, models.ErrNotFound) {
			return models.Evaluation{}, fmt.Errorf("%w: prior evaluation", ErrNotFound)
		}
		return models.Evaluation{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	outcome = metrics.OutcomeComputed
	if ev.InsufficientData {
		outcome = metrics.OutcomeInsufficientData
	}

	fields := []zap.Field{
		zap.String("evaluation_id", ev.ID),
		zap.String("owner_id", ev.OwnerID),
		zap.Int("version", ev.Version),
		zap.String("industry", facts.Industry()),
		zap.Bool("insufficient_data", ev.InsufficientData),
		zap.Int("opportunities", len(ev.Opportunities)),
	}
	if ev.Valuation != nil {
		fields = append(fields,
			zap.Float64("central", ev.Valuation.Central),
			zap.Float64("confidence", ev.Valuation.AggregateConfidence))
	}
	s.logger.Info("evaluation computed", fields...)

	return ev, nil
}

// compute runs methodologies, reconciliation and opportunity generation.
// Zero applicable methodologies marks the evaluation insufficient instead of
// producing a zero valuation.
func (s *EvaluationService) compute(ctx context.Context, ev *models.Evaluation) {
	profile, _ := s.benchmarks.Lookup(ev.Facts.Industry())

	runCtx, cancel := context.WithTimeout(ctx, s.evaluationTimeout)
	defer cancel()

	estimates := s.runner.Run(runCtx, ev.Facts, profile)
	result, ok := s.reconciler.Reconcile(estimates)
	if !ok {
		ev.InsufficientData = true
		ev.Opportunities = []opportunity.Opportunity{}
		return
	}
	ev.Valuation = &result

	opps := s.generator.Generate(ev.Facts, result, profile)
	for i := range opps {
		opps[i].ID = OpportunityID(ev.ID, opps[i].Driver)
	}
	ev.Opportunities = opps
}

// SoftDelete marks the evaluation and all its dependents deleted atomically.
func (s *EvaluationService) SoftDelete(ctx context.Context, actor Actor, id string) (models.Evaluation, error) {
	ev, err := s.load(ctx, id)
	if err != nil {
		return models.Evaluation{}, err
	}
	if err := authorize(actor, ev.OwnerID); err != nil {
		return models.Evaluation{}, err
	}
	if ev.Deleted() {
		return models.Evaluation{}, ErrAlreadyDeleted
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = s.storage.SoftDeleteEvaluation(dbCtx, id, actor.ID, s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, models.ErrAlreadyDeleted):
		return models.Evaluation{}, ErrAlreadyDeleted
	case errors.Is(err, models.ErrNotFound):
		return models.Evaluation{}, fmt.Errorf("%w: evaluation %s", ErrNotFound, id)
	default:
		metrics.ObserveCascadeFailure()
		s.logger.Error("soft delete rolled back", zap.String("evaluation_id", id), zap.Error(err))
		return models.Evaluation{}, fmt.Errorf("%w: %v", ErrCascadeFailure, err)
	}

	s.logger.Info("evaluation soft deleted",
		zap.String("evaluation_id", id),
		zap.String("actor_id", actor.ID))

	deleted, err := s.load(ctx, id)
	if err != nil {
		s.invalidate(ctx, id)
		return models.Evaluation{}, err
	}
	s.publish(ctx, deleted)
	if ev.Supersedes != nil {
		s.refresh(ctx, *ev.Supersedes)
	}
	return deleted, nil
}

// RecordProgress applies an external status update to one opportunity.
// Done is terminal; repeating the current status is accepted.
func (s *EvaluationService) RecordProgress(ctx context.Context, actor Actor, update ProgressUpdate) (models.Progress, error) {
	if !update.Status.Valid() {
		return models.Progress{}, fmt.Errorf("%w: %q", ErrInvalidStatus, update.Status)
	}
	ev, err := s.load(ctx, update.EvaluationID)
	if err != nil {
		return models.Progress{}, err
	}
	if err := authorize(actor, ev.OwnerID); err != nil {
		return models.Progress{}, err
	}
	if ev.Deleted() {
		return models.Progress{}, fmt.Errorf("%w: evaluation %s is deleted", ErrInvalidTransition, ev.ID)
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	current, err := s.storage.GetProgress(dbCtx, update.EvaluationID, update.OpportunityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Progress{}, fmt.Errorf("%w: opportunity %s", ErrNotFound, update.OpportunityID)
		}
		return models.Progress{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if current.Status == models.StatusDone && update.Status != models.StatusDone {
		return models.Progress{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, update.Status)
	}

	now := s.now().UTC()
	next := current
	next.Status = update.Status
	next.UpdatedAt = now
	if update.ObservedImpact != nil {
		v := *update.ObservedImpact
		next.ObservedImpact = &v
	}
	if update.Status == models.StatusDone && current.CompletedAt == nil {
		next.CompletedAt = &now
	}

	if err := s.storage.UpdateProgress(dbCtx, next); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Progress{}, fmt.Errorf("%w: opportunity %s", ErrNotFound, update.OpportunityID)
		}
		return models.Progress{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.logger.Info("progress recorded",
		zap.String("evaluation_id", update.EvaluationID),
		zap.String("opportunity_id", update.OpportunityID),
		zap.String("status", string(update.Status)))

	return next, nil
}

// GetEvaluation returns a snapshot. Soft deleted evaluations are only
// returned when includeDeleted is set.
func (s *EvaluationService) GetEvaluation(ctx context.Context, actor Actor, id string, includeDeleted bool) (models.Evaluation, error) {
	ev, err := s.snapshot(ctx, id)
	if err != nil {
		return models.Evaluation{}, err
	}
	if err := authorize(actor, ev.OwnerID); err != nil {
		return models.Evaluation{}, err
	}
	if ev.Deleted() && !includeDeleted {
		return models.Evaluation{}, fmt.Errorf("%w: evaluation %s", ErrNotFound, id)
	}
	return ev, nil
}

// ListEvaluations returns the owner's evaluations, newest first.
func (s *EvaluationService) ListEvaluations(ctx context.Context, actor Actor, ownerID string, includeDeleted bool) ([]models.Evaluation, error) {
	if err := authorize(actor, ownerID); err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	evs, err := s.storage.ListEvaluations(dbCtx, ownerID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return evs, nil
}

// LatestEvaluation returns the newest live leaf of the owner's supersession graph.
func (s *EvaluationService) LatestEvaluation(ctx context.Context, actor Actor, ownerID string) (models.Evaluation, error) {
	if err := authorize(actor, ownerID); err != nil {
		return models.Evaluation{}, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ev, err := s.storage.LatestEvaluation(dbCtx, ownerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Evaluation{}, fmt.Errorf("%w: no evaluations for %s", ErrNotFound, ownerID)
		}
		return models.Evaluation{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return ev, nil
}

// History returns the supersession chain from id back to its root, including
// soft deleted ancestors.
func (s *EvaluationService) History(ctx context.Context, actor Actor, id string) ([]models.Evaluation, error) {
	head, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, head.OwnerID); err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ids, err := s.storage.Lineage(dbCtx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	chain := make([]models.Evaluation, 0, len(ids))
	chain = append(chain, head)
	for _, ancestorID := range ids[1:] {
		ev, err := s.snapshot(ctx, ancestorID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ev)
	}
	return chain, nil
}

// Compare reports the valuation delta and per-driver opportunity movement
// between two evaluations of the same owner.
func (s *EvaluationService) Compare(ctx context.Context, actor Actor, priorID, nextID string) (Comparison, error) {
	prior, err := s.GetEvaluation(ctx, actor, priorID, true)
	if err != nil {
		return Comparison{}, err
	}
	next, err := s.GetEvaluation(ctx, actor, nextID, true)
	if err != nil {
		return Comparison{}, err
	}
	if prior.Valuation == nil || next.Valuation == nil {
		return Comparison{}, ErrNoValuation
	}

	delta := next.Valuation.Central - prior.Valuation.Central
	return Comparison{
		PriorID:        prior.ID,
		NextID:         next.ID,
		PriorCentral:   prior.Valuation.Central,
		NextCentral:    next.Valuation.Central,
		CentralDelta:   delta,
		DeltaPct:       delta / prior.Valuation.Central * 100,
		ConfidenceFrom: prior.Valuation.AggregateConfidence,
		ConfidenceTo:   next.Valuation.AggregateConfidence,
		Changes:        opportunity.Diff(prior.Opportunities, next.Opportunities),
	}, nil
}

// ListProgress returns progress rows of one evaluation.
func (s *EvaluationService) ListProgress(ctx context.Context, actor Actor, evaluationID string, includeDeleted bool) ([]models.Progress, error) {
	ev, err := s.snapshot(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, ev.OwnerID); err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.storage.ListProgress(dbCtx, evaluationID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return rows, nil
}

// load reads straight from storage; mutations never trust the cache.
func (s *EvaluationService) load(ctx context.Context, id string) (models.Evaluation, error) {
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ev, err := s.storage.GetEvaluation(dbCtx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Evaluation{}, fmt.Errorf("%w: evaluation %s", ErrNotFound, id)
		}
		return models.Evaluation{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return ev, nil
}

// snapshot reads through the cache when one is configured.
func (s *EvaluationService) snapshot(ctx context.Context, id string) (models.Evaluation, error) {
	if s.cache == nil {
		return s.load(ctx, id)
	}
	return FindAndCache(ctx, s.cache, &s.sf, evaluationCacheKey(id), s.cacheTTL, s.logger,
		func(ctx context.Context) (models.Evaluation, error) {
			return s.load(ctx, id)
		})
}

// publish writes post-commit snapshots through to the cache, replacing
// anything a concurrent reader stored. A failed write evicts the key.
func (s *EvaluationService) publish(ctx context.Context, evs ...models.Evaluation) {
	if s.cache == nil {
		return
	}
	for _, ev := range evs {
		key := evaluationCacheKey(ev.ID)
		if err := s.cache.Set(ctx, key, ev, addTTLJitter(s.cacheTTL)); err != nil {
			s.logger.Warn("failed to write snapshot through", zap.String("key", key), zap.Error(err))
			s.invalidate(ctx, ev.ID)
		}
	}
}

// refresh reloads ids after a commit and publishes them. Ids that cannot be
// reloaded are evicted.
func (s *EvaluationService) refresh(ctx context.Context, ids ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range ids {
		ev, err := s.load(ctx, id)
		if err != nil {
			s.logger.Warn("failed to reload snapshot", zap.String("evaluation_id", id), zap.Error(err))
			s.invalidate(ctx, id)
			continue
		}
		s.publish(ctx, ev)
	}
}

func (s *EvaluationService) invalidate(ctx context.Context, ids ...string) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = evaluationCacheKey(id)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate snapshot cache", zap.Strings("keys", keys), zap.Error(err))
	}
}
