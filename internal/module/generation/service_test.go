package generation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stylemint/server/internal/model"
	"github.com/stylemint/server/internal/module/generation/provider"
	"github.com/stylemint/server/internal/module/generation/videojob"
	"github.com/stylemint/server/internal/module/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- mocks ---

type mockLedger struct {
	mu           sync.Mutex
	authorizeErr error
	chargeErr    error
	chargeCalls  []*ledger.Authorization
	releaseCalls []*ledger.Authorization
}

func (m *mockLedger) Authorize(ctx context.Context, accountID uuid.UUID, feature model.FeatureType) (*ledger.Authorization, error) {
	if m.authorizeErr != nil {
		return nil, m.authorizeErr
	}
	cost, _ := ledger.Cost(feature)
	return &ledger.Authorization{AccountID: accountID, FeatureType: feature, Cost: cost}, nil
}

func (m *mockLedger) Charge(ctx context.Context, auth *ledger.Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chargeErr != nil {
		return m.chargeErr
	}
	m.chargeCalls = append(m.chargeCalls, auth)
	return nil
}

func (m *mockLedger) Release(ctx context.Context, auth *ledger.Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls = append(m.releaseCalls, auth)
	return nil
}

func (m *mockLedger) charges() []*ledger.Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ledger.Authorization(nil), m.chargeCalls...)
}

func (m *mockLedger) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string) error {
	return nil
}

func (m *mockLedger) GrantMonthlyAllocation(ctx context.Context, accountID uuid.UUID, amount int64) error {
	return nil
}

func (m *mockLedger) ActivateSubscription(ctx context.Context, accountID uuid.UUID, planID, stripeCustomerID, stripeSubscriptionID string) error {
	return nil
}

func (m *mockLedger) SetStatus(ctx context.Context, accountID uuid.UUID, status model.SubscriptionStatus) error {
	return nil
}

func (m *mockLedger) GetSubscription(ctx context.Context, accountID uuid.UUID) (*model.Subscription, error) {
	return nil, ledger.ErrSubscriptionNotFound
}

func (m *mockLedger) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	return nil, ledger.ErrSubscriptionNotFound
}

func (m *mockLedger) ListPlans(ctx context.Context) ([]*model.Plan, error) { return nil, nil }

func (m *mockLedger) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	return nil, ledger.ErrPlanNotFound
}

func (m *mockLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*model.CreditTransaction, error) {
	return nil, nil
}

func (m *mockLedger) WithTx(tx *gorm.DB) ledger.ServiceInterface { return m }

type mockProvider struct {
	textResult  *provider.TextResult
	imageResult *provider.ImageResult
	videoJobID  string
	videoStatus *provider.VideoJobStatus
	err         error

	mu    sync.Mutex
	calls int
}

func (m *mockProvider) called() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) record() { m.mu.Lock(); m.calls++; m.mu.Unlock() }

func (m *mockProvider) GenerateText(ctx context.Context, req *provider.TextRequest) (*provider.TextResult, error) {
	m.record()
	return m.textResult, m.err
}

func (m *mockProvider) GenerateImage(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResult, error) {
	m.record()
	return m.imageResult, m.err
}

func (m *mockProvider) SubmitVideo(ctx context.Context, req *provider.VideoRequest) (string, error) {
	m.record()
	return m.videoJobID, m.err
}

func (m *mockProvider) GetVideoJob(ctx context.Context, providerJobID string) (*provider.VideoJobStatus, error) {
	return m.videoStatus, nil
}

type mockUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *mockUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "https://cdn.example/" + key, nil
}

type mockStores struct {
	stores map[string]*model.Store
}

func (m *mockStores) GetActiveStore(ctx context.Context, storeID string) (*model.Store, error) {
	store, ok := m.stores[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return store, nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.GenerationJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*model.GenerationJob)}
}

func (m *memJobs) Create(ctx context.Context, job *model.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, videojob.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) GetForAccount(ctx context.Context, id, accountID uuid.UUID) (*model.GenerationJob, error) {
	job, err := m.Get(ctx, id)
	if err != nil || job.AccountID != accountID {
		return nil, videojob.ErrJobNotFound
	}
	return job, nil
}

func (m *memJobs) SetPolling(ctx context.Context, id uuid.UUID, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.State = model.JobStatePolling
		job.AttemptCount = attempt
	}
	return nil
}

func (m *memJobs) SetSucceeded(ctx context.Context, id uuid.UUID, resultURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.State = model.JobStateSucceeded
		job.ResultURL = resultURL
	}
	return nil
}

func (m *memJobs) SetFailed(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.State = model.JobStateFailed
		job.FailureMessage = message
	}
	return nil
}

type fixture struct {
	svc      *Service
	ledger   *mockLedger
	provider *mockProvider
	uploader *mockUploader
	stores   *mockStores
	jobs     *memJobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := &mockLedger{}
	prov := &mockProvider{
		textResult:  &provider.TextResult{Text: "style advice"},
		imageResult: &provider.ImageResult{Data: []byte("png"), ContentType: "image/png"},
		videoJobID:  "prov_vid_1",
		videoStatus: &provider.VideoJobStatus{State: "succeeded", VideoURL: "https://cdn.example/v.mp4"},
	}
	up := &mockUploader{}
	stores := &mockStores{stores: make(map[string]*model.Store)}
	jobs := newMemJobs()
	runner := videojob.NewRunner(jobs, prov, 5*time.Millisecond, time.Second, zap.NewNop())

	return &fixture{
		svc:      NewService(led, prov, up, stores, jobs, runner, nil, zap.NewNop()),
		ledger:   led,
		provider: prov,
		uploader: up,
		stores:   stores,
		jobs:     jobs,
	}
}

// --- tests ---

func TestGenerateText_ChargesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	artifact, err := f.svc.GenerateText(context.Background(), accountID, &TextRequest{Prompt: "capsule wardrobe"})
	require.NoError(t, err)
	assert.Equal(t, model.FeatureText, artifact.FeatureType)
	assert.Equal(t, "style advice", artifact.Text)

	charges := f.ledger.charges()
	require.Len(t, charges, 1)
	assert.Equal(t, int64(1), charges[0].Cost)
}

func TestGenerateText_ProviderFailureNeverCharges(t *testing.T) {
	f := newFixture(t)
	f.provider.err = provider.ErrUnavailable

	_, err := f.svc.GenerateText(context.Background(), uuid.New(), &TextRequest{Prompt: "x"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	assert.Empty(t, f.ledger.charges())
	assert.Len(t, f.ledger.releaseCalls, 1)
}

func TestGenerateText_EmptyPromptIsValidationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateText(context.Background(), uuid.New(), &TextRequest{Prompt: "   "})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.provider.called())
}

func TestGenerateImage_AuthorizeFailureNeverReachesProvider(t *testing.T) {
	f := newFixture(t)
	f.ledger.authorizeErr = ledger.ErrInsufficientCredits

	_, err := f.svc.GenerateImage(context.Background(), uuid.New(), &ImageRequest{Prompt: "look"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	assert.Equal(t, 0, f.provider.called())
	assert.Empty(t, f.ledger.charges())
}

func TestGenerateImage_TryOnCostAndUpload(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	artifact, err := f.svc.GenerateImage(context.Background(), accountID, &ImageRequest{
		Prompt:           "try this on",
		SubjectImageURL:  "https://img.example/me.jpg",
		GarmentImageURLs: []string{"https://img.example/coat.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FeatureTryOn, artifact.FeatureType)
	assert.Contains(t, artifact.URL, "https://cdn.example/generations/")

	charges := f.ledger.charges()
	require.Len(t, charges, 1)
	assert.Equal(t, int64(8), charges[0].Cost)
	assert.Len(t, f.uploader.keys, 1)
}

func TestGenerateImage_UploadFailureNotBilled(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = context.DeadlineExceeded

	_, err := f.svc.GenerateImage(context.Background(), uuid.New(), &ImageRequest{Prompt: "look"})
	require.Error(t, err)
	assert.Empty(t, f.ledger.charges())
}

func TestGenerateImage_ChargeFailureStillReturnsArtifact(t *testing.T) {
	f := newFixture(t)
	f.ledger.chargeErr = ledger.ErrInsufficientCredits

	artifact, err := f.svc.GenerateImage(context.Background(), uuid.New(), &ImageRequest{Prompt: "look"})
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.URL)
}

func TestGenerateVideo_ChargesOnBackgroundSuccess(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	artifact, err := f.svc.GenerateVideo(context.Background(), accountID, &VideoRequest{Prompt: "runway"})
	require.NoError(t, err)
	require.NotNil(t, artifact.JobID)
	assert.Equal(t, model.JobStateSubmitted, artifact.JobState)

	require.Eventually(t, func() bool {
		job, err := f.jobs.Get(context.Background(), *artifact.JobID)
		return err == nil && job.State == model.JobStateSucceeded
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.ledger.charges()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(40), f.ledger.charges()[0].Cost)
}

func TestGenerateVideo_SubmitFailureNeverCharges(t *testing.T) {
	f := newFixture(t)
	f.provider.err = provider.ErrUnavailable

	_, err := f.svc.GenerateVideo(context.Background(), uuid.New(), &VideoRequest{Prompt: "runway"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Empty(t, f.ledger.charges())
	assert.Empty(t, f.jobs.jobs)
}

func TestGetVideoJob_ScopedToAccount(t *testing.T) {
	f := newFixture(t)
	accountID := uuid.New()

	artifact, err := f.svc.GenerateVideo(context.Background(), accountID, &VideoRequest{Prompt: "runway"})
	require.NoError(t, err)

	job, err := f.svc.GetVideoJob(context.Background(), accountID, *artifact.JobID)
	require.NoError(t, err)
	assert.Equal(t, *artifact.JobID, job.ID)

	_, err = f.svc.GetVideoJob(context.Background(), uuid.New(), *artifact.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStorefrontTryOn_ChargesStoreOwner(t *testing.T) {
	f := newFixture(t)
	ownerID := uuid.New()
	f.stores.stores["store-1"] = &model.Store{ID: "store-1", AccountID: ownerID, Active: true}

	artifact, err := f.svc.StorefrontTryOn(context.Background(), "store-1", &ImageRequest{
		GarmentImageURLs: []string{"https://img.example/dress.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FeatureTryOn, artifact.FeatureType)

	charges := f.ledger.charges()
	require.Len(t, charges, 1)
	assert.Equal(t, ownerID, charges[0].AccountID)
}

func TestStorefrontTryOn_UnknownStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StorefrontTryOn(context.Background(), "missing", &ImageRequest{
		GarmentImageURLs: []string{"https://img.example/dress.jpg"},
	})
	assert.ErrorIs(t, err, ErrStoreNotFound)
	assert.Equal(t, 0, f.provider.called())
}

func TestStorefrontTryOn_RequiresGarment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StorefrontTryOn(context.Background(), "store-1", &ImageRequest{Prompt: "just a look"})
	assert.ErrorIs(t, err, ErrValidation)
}
