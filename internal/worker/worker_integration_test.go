//go:build integration

// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/persistence/postgres"
	"github.com/adiadia/webhook-runtime/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("webhooks"),
		tcpostgres.WithUsername("webhooks"),
		tcpostgres.WithPassword("webhooks"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skip integration test: cannot start postgres container (%v)", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("cleanup warning: terminate postgres container failed (%v)", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.EnsureSchema(ctx, pool, discardLogger()))
	return pool
}

func TestQueueSkipsEventsWithLiveJobIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startPostgres(ctx, t)

	webhookCfg := config.WebhookConfig{MaxRetries: 20, BackoffMax: time.Second, JobTimeout: time.Minute}
	insertClient, err := NewInsertClient(pool, ClientConfigFrom(webhookCfg, discardLogger()))
	require.NoError(t, err)
	queue := NewQueue(insertClient, webhookCfg.MaxAttempts(), discardLogger())

	failedID, otherID := uuid.New(), uuid.New()

	n, err := queue.EnqueueMany(ctx, []uuid.UUID{failedID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second bulk pass while the first job is still waiting adds only the new event.
	n, err = queue.EnqueueMany(ctx, []uuid.UUID{failedID, otherID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, queue.Enqueue(ctx, failedID))

	var jobs int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM river_job WHERE kind = $1 AND args->>'event_id' = $2`,
		ProcessWebhookJobKind, failedID.String(),
	).Scan(&jobs))
	require.Equal(t, 1, jobs)
}

func TestWorkerDeliversQueuedEventIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startPostgres(ctx, t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt fails so the retry path runs once.
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"received"}`))
	}))
	defer srv.Close()

	repo := repository.NewWebhookEventRepository(pool, discardLogger())
	ev, err := repo.Create(ctx, domain.CreateWebhookEventParams{
		Destination: srv.URL,
		Type:        string(domain.EventOrderCreated),
		Payload:     json.RawMessage(`{"id":"ob_123"}`),
	})
	require.NoError(t, err)

	webhookCfg := config.WebhookConfig{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		BackoffMax: time.Second,
		MaxWorkers: 2,
		JobTimeout: time.Minute,
	}

	w, err := New(Deps{
		Pool:    pool,
		Store:   repo,
		Logger:  discardLogger(),
		Version: "integration",
		Webhook: webhookCfg,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = w.Stop(stopCtx)
	})

	insertClient, err := NewInsertClient(pool, ClientConfigFrom(webhookCfg, discardLogger()))
	require.NoError(t, err)
	queue := NewQueue(insertClient, webhookCfg.MaxAttempts(), discardLogger())
	require.NoError(t, queue.Enqueue(ctx, ev.ID))

	require.Eventually(t, func() bool {
		got, err := repo.Get(ctx, ev.ID)
		return err == nil && got.State() == domain.DeliverySucceeded
	}, 90*time.Second, 250*time.Millisecond)

	got, err := repo.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Nil(t, got.FailedAt)
	require.JSONEq(t, `{"status":"received"}`, string(got.ResponsePayload))
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
