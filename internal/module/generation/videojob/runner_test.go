package videojob

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stylemint/server/internal/model"
	"github.com/stylemint/server/internal/module/generation/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeProvider struct {
	statuses []*provider.VideoJobStatus
	pollErr  error
	calls    atomic.Int32
}

func (f *fakeProvider) GenerateText(ctx context.Context, req *provider.TextRequest) (*provider.TextResult, error) {
	return nil, nil
}

func (f *fakeProvider) GenerateImage(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResult, error) {
	return nil, nil
}

func (f *fakeProvider) SubmitVideo(ctx context.Context, req *provider.VideoRequest) (string, error) {
	return "prov_job_1", nil
}

func (f *fakeProvider) GetVideoJob(ctx context.Context, providerJobID string) (*provider.VideoJobStatus, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.statuses) {
		n = len(f.statuses) - 1
	}
	return f.statuses[n], nil
}

func newTestRepo(t *testing.T) Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "videojob_test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.GenerationJob{}))
	return NewRepository(db)
}

func seedJob(t *testing.T, repo Repository) *model.GenerationJob {
	t.Helper()

	job := &model.GenerationJob{
		ID:            uuid.New(),
		AccountID:     uuid.New(),
		State:         model.JobStateSubmitted,
		ProviderJobID: "prov_job_1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestRunner_SucceedsAndChargesOnce(t *testing.T) {
	repo := newTestRepo(t)
	job := seedJob(t, repo)

	fake := &fakeProvider{statuses: []*provider.VideoJobStatus{
		{State: "queued"},
		{State: "running"},
		{State: "succeeded", VideoURL: "https://cdn.example/clip.mp4"},
	}}

	var charges atomic.Int32
	runner := NewRunner(repo, fake, 5*time.Millisecond, time.Second, zap.NewNop())
	runner.Run(context.Background(), job.ID, job.ProviderJobID, func(ctx context.Context) error {
		charges.Add(1)
		return nil
	})

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSucceeded, got.State)
	assert.Equal(t, "https://cdn.example/clip.mp4", got.ResultURL)
	assert.Equal(t, 3, got.AttemptCount)
	assert.NotNil(t, got.LastPolledAt)
	assert.Equal(t, int32(1), charges.Load())
}

func TestRunner_ProviderFailureNeverCharges(t *testing.T) {
	repo := newTestRepo(t)
	job := seedJob(t, repo)

	fake := &fakeProvider{statuses: []*provider.VideoJobStatus{
		{State: "running"},
		{State: "failed", Error: "content policy rejection"},
	}}

	var charges atomic.Int32
	runner := NewRunner(repo, fake, 5*time.Millisecond, time.Second, zap.NewNop())
	runner.Run(context.Background(), job.ID, job.ProviderJobID, func(ctx context.Context) error {
		charges.Add(1)
		return nil
	})

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Equal(t, "content policy rejection", got.FailureMessage)
	assert.Equal(t, int32(0), charges.Load())
}

func TestRunner_BudgetExceededIsTimeoutAndUnbilled(t *testing.T) {
	repo := newTestRepo(t)
	job := seedJob(t, repo)

	// Provider never reaches a terminal state.
	fake := &fakeProvider{statuses: []*provider.VideoJobStatus{{State: "running"}}}

	var charges atomic.Int32
	runner := NewRunner(repo, fake, 5*time.Millisecond, 40*time.Millisecond, zap.NewNop())
	runner.Run(context.Background(), job.ID, job.ProviderJobID, func(ctx context.Context) error {
		charges.Add(1)
		return nil
	})

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Equal(t, TimeoutMessage, got.FailureMessage)
	assert.Equal(t, int32(0), charges.Load())
}

func TestRunner_TransientPollErrorsBoundedByBudget(t *testing.T) {
	repo := newTestRepo(t)
	job := seedJob(t, repo)

	fake := &fakeProvider{pollErr: provider.ErrUnavailable}

	runner := NewRunner(repo, fake, 5*time.Millisecond, 40*time.Millisecond, zap.NewNop())
	runner.Run(context.Background(), job.ID, job.ProviderJobID, nil)

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	assert.Equal(t, TimeoutMessage, got.FailureMessage)
}

func TestRunner_ChargeFailureStillDeliversArtifact(t *testing.T) {
	repo := newTestRepo(t)
	job := seedJob(t, repo)

	fake := &fakeProvider{statuses: []*provider.VideoJobStatus{
		{State: "succeeded", VideoURL: "https://cdn.example/clip.mp4"},
	}}

	runner := NewRunner(repo, fake, 5*time.Millisecond, time.Second, zap.NewNop())
	runner.Run(context.Background(), job.ID, job.ProviderJobID, func(ctx context.Context) error {
		return fmt.Errorf("insufficient credits")
	})

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSucceeded, got.State)
	assert.Equal(t, "https://cdn.example/clip.mp4", got.ResultURL)
}
