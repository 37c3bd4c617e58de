//go:build integration

// Integration tests for the batch repository against a real PostgreSQL.
package repository

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/PixelDrop/internal/database"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

var testPool *pgxpool.Pool

// TestMain starts one Postgres container for all tests.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pixeldrop",
				"POSTGRES_PASSWORD": "pixeldrop",
				"POSTGRES_DB":       "pixeldrop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://pixeldrop:pixeldrop@%s:%s/pixeldrop?sslmode=disable", host, port.Port())

	testPool, err = database.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := database.EnsureSchema(ctx, testPool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newBatch(names ...string) *Batch {
	b := &Batch{ID: uuid.NewString(), TargetFormat: model.FormatWEBP}
	for _, n := range names {
		b.Jobs = append(b.Jobs, Job{
			ID:        uuid.NewString(),
			FileName:  n,
			MimeType:  "image/png",
			Size:      42,
			ObjectKey: "uploads/" + n,
		})
	}
	return b
}

func TestCreateAndGetKeepsOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(testPool)
	b := newBatch("c.png", "a.png", "b.png")
	require.NoError(t, repo.Create(ctx, b))

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 3, got.Total)
	require.Len(t, got.Jobs, 3)
	for i, name := range []string{"c.png", "a.png", "b.png"} {
		assert.Equal(t, name, got.Jobs[i].FileName)
		assert.Equal(t, i, got.Jobs[i].Position)
		assert.Equal(t, model.StatusPending, got.Jobs[i].Status)
	}
}

func TestJobStatusUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(testPool)
	b := newBatch("ok.png", "bad.png")
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.MarkProcessing(ctx, b.ID))

	ok, bad := b.Jobs[0].ID, b.Jobs[1].ID
	require.NoError(t, repo.MarkJobRunning(ctx, ok))
	require.NoError(t, repo.MarkJobSucceeded(ctx, ok, "ok.webp", "converted/ok.webp"))
	require.NoError(t, repo.MarkJobFailed(ctx, bad, model.Failure{Kind: model.FailureDecode, SubReason: model.SubReasonTimeout, Message: "slow"}))
	require.NoError(t, repo.Finish(ctx, b.ID, StatusCompleted, 1, 1, nil))

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)

	job, err := repo.GetJob(ctx, b.ID, ok)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, job.Status)
	require.NotNil(t, job.ProcessedKey)
	assert.Equal(t, "converted/ok.webp", *job.ProcessedKey)
	assert.Nil(t, job.Failure)

	job, err = repo.GetJob(ctx, b.ID, bad)
	require.NoError(t, err)
	require.NotNil(t, job.Failure)
	assert.Equal(t, model.FailureDecode, job.Failure.Kind)
	assert.True(t, job.Failure.Timeout())

	// A retried task resets every job.
	require.NoError(t, repo.MarkProcessing(ctx, b.ID))
	got, err = repo.Get(ctx, b.ID)
	require.NoError(t, err)
	for _, j := range got.Jobs {
		assert.Equal(t, model.StatusPending, j.Status)
		assert.Nil(t, j.Failure)
		assert.Nil(t, j.ProcessedKey)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewBatchRepository(testPool)
	_, err := repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.GetJob(ctx, "missing", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(repo.MarkJobRunning(ctx, "missing"), ErrNotFound))
}
