package service_test

import (
	"context"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/opportunity"
	q "github.com/godilite/valuation-server/internal/questionnaire"
	"github.com/godilite/valuation-server/internal/repository"
	"github.com/godilite/valuation-server/internal/repository/models"
	"github.com/godilite/valuation-server/internal/service"
	"github.com/godilite/valuation-server/pkg/cache"
	"github.com/godilite/valuation-server/pkg/database"
)

var owner = service.Actor{ID: "owner-1", Role: service.RoleOwner}

func setupService(tb testing.TB, logger *zap.Logger) *service.EvaluationService {
	tb.Helper()

	db, err := database.New(database.WithSQLite(":memory:"))
	require.NoError(tb, err)
	tb.Cleanup(func() { db.Close() })
	require.NoError(tb, repository.Migrate(context.Background(), db))

	return service.NewEvaluationService(
		repository.NewEvaluationRepository(db),
		benchmark.Default(),
		logger,
		service.WithCache(cache.Noop{}),
	)
}

func response(ebitda float64) q.Response {
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

func change(changes []opportunity.Change, driver string) (opportunity.Change, bool) {
	for _, c := range changes {
		if c.Driver == driver {
			return c, true
		}
	}
	return opportunity.Change{}, false
}

func TestEvaluationLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, zaptest.NewLogger(t))

	first, err := svc.CreateEvaluation(ctx, owner, response(100_000))
	require.NoError(t, err)
	require.NotNil(t, first.Valuation)

	t.Run("margin improvement resolves after re-evaluation", func(t *testing.T) {
		second, err := svc.ReEvaluate(ctx, owner, first.ID, response(160_000))
		require.NoError(t, err)
		assert.Equal(t, 2, second.Version)

		prior, err := svc.GetEvaluation(ctx, owner, first.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.StateSuperseded, prior.State())
		assert.Equal(t, []string{second.ID}, prior.SupersededBy)

		cmp, err := svc.Compare(ctx, owner, first.ID, second.ID)
		require.NoError(t, err)
		assert.Greater(t, cmp.CentralDelta, 0.0)

		margin, ok := change(cmp.Changes, opportunity.MarginImprovement)
		require.True(t, ok)
		assert.Greater(t, margin.PriorImpact, 0.0)
		assert.True(t, margin.Resolved)

		latest, err := svc.LatestEvaluation(ctx, owner, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)

		history, err := svc.History(ctx, owner, second.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, second.ID, history[0].ID)
		assert.Equal(t, first.ID, history[1].ID)
	})

	t.Run("progress tracking", func(t *testing.T) {
		rows, err := svc.ListProgress(ctx, owner, first.ID, false)
		require.NoError(t, err)
		require.Len(t, rows, len(first.Opportunities))
		for _, p := range rows {
			assert.Equal(t, models.StatusPending, p.Status)
		}

		target := first.Opportunities[0].ID
		p, err := svc.RecordProgress(ctx, owner, service.ProgressUpdate{
			EvaluationID: first.ID, OpportunityID: target, Status: models.StatusDone,
		})
		require.NoError(t, err)
		require.NotNil(t, p.CompletedAt)

		_, err = svc.RecordProgress(ctx, owner, service.ProgressUpdate{
			EvaluationID: first.ID, OpportunityID: target, Status: models.StatusPending,
		})
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
	})
}

func TestConcurrentReEvaluations(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, zap.NewNop())

	root, err := svc.CreateEvaluation(ctx, owner, response(100_000))
	require.NoError(t, err)

	const n = 4
	var wg sync.WaitGroup
	results := make([]models.Evaluation, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ReEvaluate(ctx, owner, root.ID, response(110_000+float64(i)*10_000))
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool, n)
	for i := range n {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Supersedes)
		assert.Equal(t, root.ID, *results[i].Supersedes)
		ids[results[i].ID] = true
	}
	assert.Len(t, ids, n, "every re-evaluation creates its own record")

	prior, err := svc.GetEvaluation(ctx, owner, root.ID, false)
	require.NoError(t, err)
	assert.Len(t, prior.SupersededBy, n)
}

func TestSoftDeleteCascade(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, zaptest.NewLogger(t))

	ev, err := svc.CreateEvaluation(ctx, owner, response(100_000))
	require.NoError(t, err)

	stranger := service.Actor{ID: "owner-2", Role: service.RoleOwner}
	_, err = svc.SoftDelete(ctx, stranger, ev.ID)
	assert.ErrorIs(t, err, service.ErrNotOwner)

	deleted, err := svc.SoftDelete(ctx, owner, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSoftDeleted, deleted.State())
	assert.Equal(t, owner.ID, deleted.DeletedBy)

	_, err = svc.SoftDelete(ctx, owner, ev.ID)
	assert.ErrorIs(t, err, service.ErrAlreadyDeleted)

	_, err = svc.GetEvaluation(ctx, owner, ev.ID, false)
	assert.ErrorIs(t, err, service.ErrNotFound)

	live, err := svc.ListProgress(ctx, owner, ev.ID, false)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := svc.ListProgress(ctx, owner, ev.ID, true)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for _, p := range all {
		assert.NotNil(t, p.DeletedAt)
	}

	_, err = svc.RecordProgress(ctx, owner, service.ProgressUpdate{
		EvaluationID: ev.ID, OpportunityID: ev.Opportunities[0].ID, Status: models.StatusDone,
	})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	list, err := svc.ListEvaluations(ctx, owner, owner.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func BenchmarkCreateEvaluation(b *testing.B) {
	ctx := context.Background()
	svc := setupService(b, zap.NewNop())
	resp := response(100_000)

	b.ReportAllocs()
	for b.Loop() {
		if _, err := svc.CreateEvaluation(ctx, owner, resp); err != nil {
			b.Fatalf("create failed: %v", err)
		}
	}
}

func BenchmarkGetEvaluation(b *testing.B) {
	ctx := context.Background()
	svc := setupService(b, zap.NewNop())
	ev, err := svc.CreateEvaluation(ctx, owner, response(100_000))
	if err != nil {
		b.Fatalf("create failed: %v", err)
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := svc.GetEvaluation(ctx, owner, ev.ID, false); err != nil {
			b.Fatalf("get failed: %v", err)
		}
	}
}
