package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/godilite/valuation-server/internal/benchmark"
	q "github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service/mocks"
	"github.com/godilite/valuation-server/internal/valuation"
	"github.com/godilite/valuation-server/pkg/cache"
)

var (
	fixedNow = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	owner    = Actor{ID: "owner-1", Role: RoleOwner}
	stranger = Actor{ID: "owner-2", Role: RoleOwner}
	admin    = Actor{ID: "ops", Role: RoleAdmin}
)

func fullResponse(ebitda float64) q.Response {
	return q.Response{Answers: map[string]any{
		q.KeyIndustry:        "services",
		q.KeyAnnualRevenue:   1_000_000.0,
		q.KeyEBITDA:          ebitda,
		q.KeyYearsInBusiness: 8.0,
		q.KeyEmployeeCount:   10.0,
		q.KeyOwnsRealEstate:  false,
		q.KeyTopCustomerPct:  35.0,
		q.KeyOwnerDependence: "high",
	}}
}

func newTestService(t *testing.T, repo EvaluationRepository, opts ...Option) *EvaluationService {
	t.Helper()
	ids := 0
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("ev-%d", ids)
		}),
	}
	return NewEvaluationService(repo, benchmark.Default(), zaptest.NewLogger(t), append(base, opts...)...)
}

func storedEvaluation(id, ownerID string) models.Evaluation {
	return models.Evaluation{
		ID:        id,
		OwnerID:   ownerID,
		Version:   1,
		CreatedAt: fixedNow,
		Valuation: &valuation.Result{Low: 400_000, Central: 500_000, High: 600_000, AggregateConfidence: 0.5},
	}
}

func TestNewEvaluationService(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{}
		svc := NewEvaluationService(repo, benchmark.Default(), zap.NewNop())

		assert.NotNil(t, svc)
		assert.Equal(t, repo, svc.storage)
		assert.NotNil(t, svc.runner)
		assert.NotNil(t, svc.generator)
		assert.Nil(t, svc.cache)
	})

	t.Run("nil storage panics", func(t *testing.T) {
		assert.Panics(t, func() {
			NewEvaluationService(nil, benchmark.Default(), zap.NewNop())
		})
	})

	t.Run("nil benchmarks panics", func(t *testing.T) {
		assert.Panics(t, func() {
			NewEvaluationService(&mocks.MockEvaluationRepository{}, nil, zap.NewNop())
		})
	})

	t.Run("nil logger gets default", func(t *testing.T) {
		svc := NewEvaluationService(&mocks.MockEvaluationRepository{}, benchmark.Default(), nil)
		assert.NotNil(t, svc.logger)
	})

	t.Run("non-positive durations fall back to defaults", func(t *testing.T) {
		svc := NewEvaluationService(&mocks.MockEvaluationRepository{}, benchmark.Default(), zap.NewNop(),
			WithCacheTTL(0), WithEvaluationTimeout(-time.Second))
		assert.Equal(t, defaultCacheTTL, svc.cacheTTL)
		assert.Equal(t, defaultEvaluationTimeout, svc.evaluationTimeout)
	})
}

func TestOpportunityID(t *testing.T) {
	a := OpportunityID("ev-1", "margin_improvement")
	assert.Equal(t, a, OpportunityID("ev-1", "margin_improvement"))
	assert.NotEqual(t, a, OpportunityID("ev-2", "margin_improvement"))
	assert.NotEqual(t, a, OpportunityID("ev-1", "recurring_revenue"))
}

func TestCreateEvaluation(t *testing.T) {
	ctx := context.Background()

	t.Run("computes and persists a root evaluation", func(t *testing.T) {
		var saved models.Evaluation
		repo := &mocks.MockEvaluationRepository{
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error {
				saved = ev
				return nil
			},
		}
		svc := newTestService(t, repo)

		ev, err := svc.CreateEvaluation(ctx, owner, fullResponse(100_000))
		require.NoError(t, err)

		assert.Equal(t, "ev-1", ev.ID)
		assert.Equal(t, owner.ID, ev.OwnerID)
		assert.Equal(t, 1, ev.Version)
		assert.Nil(t, ev.Supersedes)
		assert.Equal(t, fixedNow, ev.CreatedAt)
		assert.False(t, ev.InsufficientData)
		require.NotNil(t, ev.Valuation)
		assert.Greater(t, ev.Valuation.Central, 0.0)
		assert.Greater(t, ev.DataConfidence, 0.0)
		require.NotEmpty(t, ev.Opportunities)
		for _, o := range ev.Opportunities {
			assert.Equal(t, OpportunityID(ev.ID, o.Driver), o.ID)
		}
		assert.Equal(t, ev, saved)
	})

	t.Run("missing actor", func(t *testing.T) {
		svc := newTestService(t, &mocks.MockEvaluationRepository{})

		_, err := svc.CreateEvaluation(ctx, Actor{}, fullResponse(100_000))
		assert.ErrorIs(t, err, ErrMissingActor)
	})

	t.Run("missing essential financials are rejected before computing", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error {
				t.Fatal("storage must not be called")
				return nil
			},
		}
		svc := newTestService(t, repo)

		resp := fullResponse(100_000)
		delete(resp.Answers, q.KeyAnnualRevenue)
		delete(resp.Answers, q.KeyEBITDA)

		_, err := svc.CreateEvaluation(ctx, owner, resp)

		var insufficient *InsufficientDataError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, []string{q.KeyAnnualRevenue, q.KeyEBITDA}, insufficient.Missing)
	})

	t.Run("relaxed policy marks evaluation insufficient instead of valuing it", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error { return nil },
		}
		svc := newTestService(t, repo, WithPolicy(CompletenessPolicy{
			Essential:  []string{q.KeyIndustry, q.KeyAnnualRevenue},
			MinPresent: 1,
		}))

		ev, err := svc.CreateEvaluation(ctx, owner, q.Response{Answers: map[string]any{
			q.KeyIndustry:       "services",
			q.KeyOwnsRealEstate: false,
		}})
		require.NoError(t, err)

		assert.True(t, ev.InsufficientData)
		assert.Nil(t, ev.Valuation)
		assert.Empty(t, ev.Opportunities)
	})

	t.Run("validation errors pass through", func(t *testing.T) {
		svc := newTestService(t, &mocks.MockEvaluationRepository{})

		resp := fullResponse(100_000)
		resp.Answers[q.KeyIndustry] = "spaceflight"

		_, err := svc.CreateEvaluation(ctx, owner, resp)

		var verr *q.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.Has(q.OutOfRange, q.KeyIndustry))
	})

	t.Run("storage failure is wrapped", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error {
				return errors.New("disk full")
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.CreateEvaluation(ctx, owner, fullResponse(100_000))
		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestReEvaluate(t *testing.T) {
	ctx := context.Background()
	prior := storedEvaluation("prior", owner.ID)
	prior.Version = 3

	t.Run("supersedes the prior and keeps its owner", func(t *testing.T) {
		var written []string
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return prior, nil
			},
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error { return nil },
		}
		cache := &mocks.MockCacher{
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				written = append(written, key)
				return nil
			},
			DelFunc: func(ctx context.Context, keys ...string) error {
				t.Fatalf("unexpected eviction of %v", keys)
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		ev, err := svc.ReEvaluate(ctx, admin, prior.ID, fullResponse(120_000))
		require.NoError(t, err)

		require.NotNil(t, ev.Supersedes)
		assert.Equal(t, prior.ID, *ev.Supersedes)
		assert.Equal(t, owner.ID, ev.OwnerID)
		assert.Equal(t, 4, ev.Version)
		assert.Equal(t, []string{"evaluation:prior"}, written, "the prior is written through with its new successor")
	})

	t.Run("other owners are rejected", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return prior, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.ReEvaluate(ctx, stranger, prior.ID, fullResponse(120_000))
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("deleted prior cannot be superseded", func(t *testing.T) {
		gone := prior
		gone.DeletedAt = &fixedNow
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return gone, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.ReEvaluate(ctx, owner, prior.ID, fullResponse(120_000))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown prior", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return models.Evaluation{}, models.ErrNotFound
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.ReEvaluate(ctx, owner, "missing", fullResponse(120_000))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	parentID := "parent"
	child := storedEvaluation("child", owner.ID)
	child.Supersedes = &parentID

	t.Run("marks deleted and writes itself and its parent through", func(t *testing.T) {
		deleted := false
		written := map[string]models.Evaluation{}
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				if id == parentID {
					return storedEvaluation(parentID, owner.ID), nil
				}
				ev := child
				if deleted {
					ev.DeletedAt = &fixedNow
					ev.DeletedBy = owner.ID
				}
				return ev, nil
			},
			SoftDeleteEvaluationFunc: func(ctx context.Context, id, actorID string, at time.Time) error {
				assert.Equal(t, child.ID, id)
				assert.Equal(t, owner.ID, actorID)
				assert.Equal(t, fixedNow, at)
				deleted = true
				return nil
			},
		}
		cache := &mocks.MockCacher{
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				written[key] = value.(models.Evaluation)
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		ev, err := svc.SoftDelete(ctx, owner, child.ID)
		require.NoError(t, err)

		assert.Equal(t, models.StateSoftDeleted, ev.State())
		require.Len(t, written, 2)
		assert.True(t, written["evaluation:child"].Deleted())
		assert.Equal(t, parentID, written["evaluation:parent"].ID)
	})

	t.Run("failed write-through evicts the key", func(t *testing.T) {
		var evicted []string
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return storedEvaluation(id, owner.ID), nil
			},
			SoftDeleteEvaluationFunc: func(ctx context.Context, id, actorID string, at time.Time) error {
				return nil
			},
		}
		cache := &mocks.MockCacher{
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				return errors.New("connection reset")
			},
			DelFunc: func(ctx context.Context, keys ...string) error {
				evicted = append(evicted, keys...)
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		_, err := svc.SoftDelete(ctx, owner, "solo")
		require.NoError(t, err)
		assert.Equal(t, []string{"evaluation:solo"}, evicted)
	})

	t.Run("other owners are rejected", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return child, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.SoftDelete(ctx, stranger, child.ID)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("already deleted", func(t *testing.T) {
		gone := child
		gone.DeletedAt = &fixedNow
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return gone, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.SoftDelete(ctx, owner, child.ID)
		assert.ErrorIs(t, err, ErrAlreadyDeleted)
	})

	t.Run("lost race reports already deleted", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return child, nil
			},
			SoftDeleteEvaluationFunc: func(ctx context.Context, id, actorID string, at time.Time) error {
				return models.ErrAlreadyDeleted
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.SoftDelete(ctx, owner, child.ID)
		assert.ErrorIs(t, err, ErrAlreadyDeleted)
	})

	t.Run("cascade failure", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return child, nil
			},
			SoftDeleteEvaluationFunc: func(ctx context.Context, id, actorID string, at time.Time) error {
				return models.ErrCascade
			},
		}
		cache := &mocks.MockCacher{
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				t.Fatal("cache must not be written after a rollback")
				return nil
			},
			DelFunc: func(ctx context.Context, keys ...string) error {
				t.Fatal("cache must not be invalidated after a rollback")
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		_, err := svc.SoftDelete(ctx, owner, child.ID)
		assert.ErrorIs(t, err, ErrCascadeFailure)
	})
}

func TestRecordProgress(t *testing.T) {
	ctx := context.Background()
	ev := storedEvaluation("ev", owner.ID)
	impact := 25_000.0

	newRepo := func(current models.Progress, saved *models.Progress) *mocks.MockEvaluationRepository {
		return &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return ev, nil
			},
			GetProgressFunc: func(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error) {
				return current, nil
			},
			UpdateProgressFunc: func(ctx context.Context, p models.Progress) error {
				*saved = p
				return nil
			},
		}
	}

	pending := models.Progress{EvaluationID: ev.ID, OpportunityID: "opp", Status: models.StatusPending}

	t.Run("done sets completion once", func(t *testing.T) {
		var saved models.Progress
		svc := newTestService(t, newRepo(pending, &saved))

		p, err := svc.RecordProgress(ctx, owner, ProgressUpdate{
			EvaluationID: ev.ID, OpportunityID: "opp", Status: models.StatusDone, ObservedImpact: &impact,
		})
		require.NoError(t, err)

		assert.Equal(t, models.StatusDone, p.Status)
		require.NotNil(t, p.CompletedAt)
		assert.Equal(t, fixedNow, *p.CompletedAt)
		require.NotNil(t, p.ObservedImpact)
		assert.Equal(t, impact, *p.ObservedImpact)
		assert.Equal(t, p, saved)
	})

	t.Run("repeating done keeps the original completion time", func(t *testing.T) {
		earlier := fixedNow.Add(-time.Hour)
		done := pending
		done.Status = models.StatusDone
		done.CompletedAt = &earlier

		var saved models.Progress
		svc := newTestService(t, newRepo(done, &saved))

		p, err := svc.RecordProgress(ctx, owner, ProgressUpdate{EvaluationID: ev.ID, OpportunityID: "opp", Status: models.StatusDone})
		require.NoError(t, err)
		assert.Equal(t, earlier, *p.CompletedAt)
	})

	t.Run("done is terminal", func(t *testing.T) {
		done := pending
		done.Status = models.StatusDone

		var saved models.Progress
		svc := newTestService(t, newRepo(done, &saved))

		_, err := svc.RecordProgress(ctx, owner, ProgressUpdate{EvaluationID: ev.ID, OpportunityID: "opp", Status: models.StatusInProgress})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown status", func(t *testing.T) {
		svc := newTestService(t, &mocks.MockEvaluationRepository{})

		_, err := svc.RecordProgress(ctx, owner, ProgressUpdate{EvaluationID: ev.ID, OpportunityID: "opp", Status: "abandoned"})
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("unknown opportunity", func(t *testing.T) {
		repo := newRepo(pending, new(models.Progress))
		repo.GetProgressFunc = func(ctx context.Context, evaluationID, opportunityID string) (models.Progress, error) {
			return models.Progress{}, models.ErrNotFound
		}
		svc := newTestService(t, repo)

		_, err := svc.RecordProgress(ctx, owner, ProgressUpdate{EvaluationID: ev.ID, OpportunityID: "nope", Status: models.StatusDone})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other owners are rejected", func(t *testing.T) {
		svc := newTestService(t, newRepo(pending, new(models.Progress)))

		_, err := svc.RecordProgress(ctx, stranger, ProgressUpdate{EvaluationID: ev.ID, OpportunityID: "opp", Status: models.StatusDone})
		assert.ErrorIs(t, err, ErrNotOwner)
	})
}

func TestGetEvaluation(t *testing.T) {
	ctx := context.Background()
	ev := storedEvaluation("ev", owner.ID)

	t.Run("cache hit skips storage", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				t.Fatal("storage must not be called on a hit")
				return models.Evaluation{}, nil
			},
		}
		cache := &mocks.MockCacher{
			GetFunc: func(ctx context.Context, key string, dest any) error {
				assert.Equal(t, "evaluation:ev", key)
				*dest.(*models.Evaluation) = ev
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		got, err := svc.GetEvaluation(ctx, owner, ev.ID, false)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, got.ID)
	})

	t.Run("miss reads through and populates the cache", func(t *testing.T) {
		calls := 0
		var setKey string
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				calls++
				return ev, nil
			},
		}
		cache := &mocks.MockCacher{
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				setKey = key
				assert.Greater(t, expiration, time.Minute)
				return nil
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		_, err := svc.GetEvaluation(ctx, owner, ev.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, "evaluation:ev", setKey)
	})

	t.Run("cache errors degrade to storage", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return ev, nil
			},
		}
		cache := &mocks.MockCacher{
			GetFunc: func(ctx context.Context, key string, dest any) error {
				return errors.New("connection refused")
			},
			SetFunc: func(ctx context.Context, key string, value any, expiration time.Duration) error {
				return errors.New("connection refused")
			},
		}
		svc := newTestService(t, repo, WithCache(cache))

		got, err := svc.GetEvaluation(ctx, owner, ev.ID, false)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, got.ID)
	})

	t.Run("deleted evaluations are hidden unless requested", func(t *testing.T) {
		gone := ev
		gone.DeletedAt = &fixedNow
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return gone, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.GetEvaluation(ctx, owner, ev.ID, false)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := svc.GetEvaluation(ctx, owner, ev.ID, true)
		require.NoError(t, err)
		assert.True(t, got.Deleted())
	})

	t.Run("admin may read any evaluation", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				return ev, nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.GetEvaluation(ctx, admin, ev.ID, false)
		assert.NoError(t, err)

		_, err = svc.GetEvaluation(ctx, stranger, ev.ID, false)
		assert.ErrorIs(t, err, ErrNotOwner)
	})
}

// memoryCache keeps JSON snapshots with set-if-absent semantics like redis.
type memoryCache struct {
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest any) error {
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memoryCache) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	return true, c.Set(ctx, key, value, expiration)
}

func (c *memoryCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func TestSnapshotCacheSurvivesConcurrentMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("reader loaded before a soft delete commits", func(t *testing.T) {
		live := storedEvaluation("ev", owner.ID)
		deleted := false
		var svc *EvaluationService
		reads := 0
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				reads++
				if reads == 1 {
					// The delete commits while this read is in flight.
					_, err := svc.SoftDelete(ctx, owner, id)
					require.NoError(t, err)
					return live, nil
				}
				ev := live
				if deleted {
					ev.DeletedAt = &fixedNow
					ev.DeletedBy = owner.ID
				}
				return ev, nil
			},
			SoftDeleteEvaluationFunc: func(ctx context.Context, id, actorID string, at time.Time) error {
				deleted = true
				return nil
			},
		}
		svc = newTestService(t, repo, WithCache(newMemoryCache()))

		stale, err := svc.GetEvaluation(ctx, owner, live.ID, false)
		require.NoError(t, err)
		assert.False(t, stale.Deleted())

		_, err = svc.GetEvaluation(ctx, owner, live.ID, false)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := svc.GetEvaluation(ctx, owner, live.ID, true)
		require.NoError(t, err)
		assert.True(t, got.Deleted())
	})

	t.Run("reader loaded before a re-evaluation commits", func(t *testing.T) {
		prior := storedEvaluation("prior", owner.ID)
		var successors []string
		var svc *EvaluationService
		reads := 0
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				ev := prior
				ev.SupersededBy = successors
				reads++
				if reads == 1 {
					_, err := svc.ReEvaluate(ctx, owner, id, fullResponse(160_000))
					require.NoError(t, err)
				}
				return ev, nil
			},
			CreateEvaluationFunc: func(ctx context.Context, ev models.Evaluation) error {
				successors = append(successors, ev.ID)
				return nil
			},
		}
		svc = newTestService(t, repo, WithCache(newMemoryCache()))

		stale, err := svc.GetEvaluation(ctx, owner, prior.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.StateComputed, stale.State())

		got, err := svc.GetEvaluation(ctx, owner, prior.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.StateSuperseded, got.State())
		assert.Equal(t, []string{"ev-1"}, got.SupersededBy)
	})
}

func TestCompare(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient evaluations have no valuation", func(t *testing.T) {
		empty := storedEvaluation("empty", owner.ID)
		empty.Valuation = nil
		empty.InsufficientData = true
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				if id == "empty" {
					return empty, nil
				}
				return storedEvaluation(id, owner.ID), nil
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.Compare(ctx, owner, "ev", "empty")
		assert.ErrorIs(t, err, ErrNoValuation)
	})

	t.Run("reports the central delta", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			GetEvaluationFunc: func(ctx context.Context, id string) (models.Evaluation, error) {
				ev := storedEvaluation(id, owner.ID)
				if id == "next" {
					ev.Valuation = &valuation.Result{Low: 500_000, Central: 600_000, High: 700_000, AggregateConfidence: 0.6}
				}
				return ev, nil
			},
		}
		svc := newTestService(t, repo)

		cmp, err := svc.Compare(ctx, owner, "prior", "next")
		require.NoError(t, err)

		assert.Equal(t, 100_000.0, cmp.CentralDelta)
		assert.InDelta(t, 20.0, cmp.DeltaPct, 1e-9)
		assert.Equal(t, 0.5, cmp.ConfidenceFrom)
		assert.Equal(t, 0.6, cmp.ConfidenceTo)
	})
}

func TestListAndLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("list requires ownership", func(t *testing.T) {
		svc := newTestService(t, &mocks.MockEvaluationRepository{})

		_, err := svc.ListEvaluations(ctx, stranger, owner.ID, false)
		assert.ErrorIs(t, err, ErrNotOwner)

		_, err = svc.ListEvaluations(ctx, Actor{}, owner.ID, false)
		assert.ErrorIs(t, err, ErrMissingActor)
	})

	t.Run("latest maps not found", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			LatestEvaluationFunc: func(ctx context.Context, ownerID string) (models.Evaluation, error) {
				return models.Evaluation{}, models.ErrNotFound
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.LatestEvaluation(ctx, owner, owner.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list wraps storage failures", func(t *testing.T) {
		repo := &mocks.MockEvaluationRepository{
			ListEvaluationsFunc: func(ctx context.Context, ownerID string, includeDeleted bool) ([]models.Evaluation, error) {
				return nil, errors.New("locked")
			},
		}
		svc := newTestService(t, repo)

		_, err := svc.ListEvaluations(ctx, owner, owner.ID, true)
		assert.ErrorIs(t, err, ErrStorageFailure)
	})
}

func TestCompletenessPolicy(t *testing.T) {
	facts := q.NewFacts(q.CurrentSchemaVersion, map[string]q.Value{
		q.KeyIndustry:       q.EnumValue("services"),
		q.KeyAnnualRevenue:  q.NumberValue(1_000_000),
		q.KeyOwnsRealEstate: q.BoolValue(false),
	})

	t.Run("default requires every essential field", func(t *testing.T) {
		err := DefaultPolicy().Check(facts)

		var insufficient *InsufficientDataError
		require.ErrorAs(t, err, &insufficient)
		assert.Len(t, insufficient.Missing, 5)
		assert.Contains(t, insufficient.Error(), q.KeyEBITDA)
	})

	t.Run("threshold allows partial submissions", func(t *testing.T) {
		p := DefaultPolicy()
		p.MinPresent = 3
		assert.NoError(t, p.Check(facts))

		p.MinPresent = 4
		assert.Error(t, p.Check(facts))
	})

	t.Run("threshold above the field count means all", func(t *testing.T) {
		p := DefaultPolicy()
		p.MinPresent = 100
		assert.Error(t, p.Check(facts))
	})
}
