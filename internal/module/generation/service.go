package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stylemint/server/internal/model"
	"github.com/stylemint/server/internal/module/generation/provider"
	"github.com/stylemint/server/internal/module/generation/videojob"
	"github.com/stylemint/server/internal/module/ledger"
	"github.com/stylemint/server/internal/shared/metrics"
	"github.com/stylemint/server/internal/storage"
	"go.uber.org/zap"
)

// TextRequest asks for styling advice text.
type TextRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// ImageRequest asks for a composed look image. The shape of this request
// determines the cost bucket: garment references make it a try-on, an
// avatar request without garments makes it an avatar render.
type ImageRequest struct {
	Prompt           string   `json:"prompt"`
	SubjectImageURL  string   `json:"subject_image_url,omitempty"`
	GarmentImageURLs []string `json:"garment_image_urls,omitempty"`
	UseAvatar        bool     `json:"use_avatar,omitempty"`
	StyleHint        string   `json:"style_hint,omitempty"`
	AspectRatio      string   `json:"aspect_ratio,omitempty"`
}

// VideoRequest asks for a short styled video clip.
type VideoRequest struct {
	Prompt          string `json:"prompt" binding:"required"`
	SubjectImageURL string `json:"subject_image_url,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
}

// Artifact is the result of a generation.
type Artifact struct {
	FeatureType model.FeatureType `json:"feature_type"`
	Text        string            `json:"text,omitempty"`
	URL         string            `json:"url,omitempty"`
	JobID       *uuid.UUID        `json:"job_id,omitempty"`
	JobState    model.JobState    `json:"job_state,omitempty"`
}

// Service orchestrates generation requests: classify, authorize, invoke
// the provider, charge on success. Failed generations are never billed.
type Service struct {
	ledger   ledger.ServiceInterface
	provider provider.Client
	uploader storage.Uploader
	stores   StoreRepository
	jobs     videojob.Repository
	runner   *videojob.Runner
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService creates a new generation service.
func NewService(
	ledgerService ledger.ServiceInterface,
	client provider.Client,
	uploader storage.Uploader,
	stores StoreRepository,
	jobs videojob.Repository,
	runner *videojob.Runner,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		ledger:   ledgerService,
		provider: client,
		uploader: uploader,
		stores:   stores,
		jobs:     jobs,
		runner:   runner,
		metrics:  m,
		logger:   logger,
	}
}

// GenerateText produces styling advice text for the account.
func (s *Service) GenerateText(ctx context.Context, accountID uuid.UUID, req *TextRequest) (*Artifact, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	feature, err := Classify(Shape{Kind: KindText})
	if err != nil {
		return nil, err
	}

	auth, err := s.ledger.Authorize(ctx, accountID, feature)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.provider.GenerateText(ctx, &provider.TextRequest{Prompt: req.Prompt})
	if err != nil {
		s.release(ctx, auth, start, err)
		return nil, err
	}

	s.chargeOnSuccess(ctx, auth, start)
	return &Artifact{FeatureType: feature, Text: result.Text}, nil
}

// GenerateImage produces a composed look image for the account. The
// request shape selects between the image, try-on and avatar buckets.
func (s *Service) GenerateImage(ctx context.Context, accountID uuid.UUID, req *ImageRequest) (*Artifact, error) {
	if err := validateImageRequest(req); err != nil {
		return nil, err
	}

	feature, err := Classify(Shape{
		Kind:            KindImage,
		HasGarmentRefs:  len(req.GarmentImageURLs) > 0,
		AvatarRequested: req.UseAvatar,
	})
	if err != nil {
		return nil, err
	}

	auth, err := s.ledger.Authorize(ctx, accountID, feature)
	if err != nil {
		return nil, err
	}

	input := &CompositionInput{
		Prompt:          req.Prompt,
		SubjectImageURL: req.SubjectImageURL,
		GarmentImageURL: req.GarmentImageURLs,
		StyleHint:       req.StyleHint,
	}

	start := time.Now()
	result, err := s.provider.GenerateImage(ctx, &provider.ImageRequest{
		Prompt:      BuildInstructions(input),
		ImageURLs:   input.ReferenceImages(),
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		s.release(ctx, auth, start, err)
		return nil, err
	}

	key := artifactKey(accountID, result.ContentType)
	url, err := s.uploader.Upload(ctx, key, result.Data, result.ContentType)
	if err != nil {
		// The artifact never reached the caller; do not bill it.
		s.release(ctx, auth, start, err)
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	s.chargeOnSuccess(ctx, auth, start)
	return &Artifact{FeatureType: feature, URL: url}, nil
}

// GenerateVideo submits an async video job. The job is charged only when
// the background poller observes provider success; a timed-out or failed
// job costs nothing.
func (s *Service) GenerateVideo(ctx context.Context, accountID uuid.UUID, req *VideoRequest) (*Artifact, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}

	feature, err := Classify(Shape{Kind: KindVideo})
	if err != nil {
		return nil, err
	}

	auth, err := s.ledger.Authorize(ctx, accountID, feature)
	if err != nil {
		return nil, err
	}

	var imageURLs []string
	if req.SubjectImageURL != "" {
		imageURLs = append(imageURLs, req.SubjectImageURL)
	}

	start := time.Now()
	providerJobID, err := s.provider.SubmitVideo(ctx, &provider.VideoRequest{
		Prompt:      req.Prompt,
		ImageURLs:   imageURLs,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		s.release(ctx, auth, start, err)
		return nil, err
	}

	job := &model.GenerationJob{
		ID:            uuid.New(),
		AccountID:     accountID,
		State:         model.JobStateSubmitted,
		ProviderJobID: providerJobID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.release(ctx, auth, start, err)
		return nil, err
	}

	go s.runner.Run(context.Background(), job.ID, providerJobID, func(chargeCtx context.Context) error {
		if err := s.ledger.Charge(chargeCtx, auth); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordCreditsCharged(feature.String(), auth.Cost)
			s.metrics.RecordGeneration(feature.String(), "success", time.Since(start))
		}
		return nil
	})

	return &Artifact{FeatureType: feature, JobID: &job.ID, JobState: job.State}, nil
}

// GetVideoJob returns the state of the account's video job.
func (s *Service) GetVideoJob(ctx context.Context, accountID, jobID uuid.UUID) (*model.GenerationJob, error) {
	job, err := s.jobs.GetForAccount(ctx, jobID, accountID)
	if err != nil {
		if errors.Is(err, videojob.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// StorefrontTryOn runs a garment try-on for an unauthenticated shopper.
// The charge lands on the store's owning account; the IP quota has
// already been enforced by middleware before this point.
func (s *Service) StorefrontTryOn(ctx context.Context, storeID string, req *ImageRequest) (*Artifact, error) {
	if len(req.GarmentImageURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one garment image is required", ErrValidation)
	}

	store, err := s.stores.GetActiveStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return s.GenerateImage(ctx, store.AccountID, req)
}

func (s *Service) chargeOnSuccess(ctx context.Context, auth *ledger.Authorization, start time.Time) {
	if err := s.ledger.Charge(ctx, auth); err != nil {
		// The artifact is already produced and will be returned; the
		// missed charge is an accepted loss, logged for reconciliation.
		s.logger.Error("generation succeeded but charge failed",
			zap.String("account_id", auth.AccountID.String()),
			zap.String("feature", auth.FeatureType.String()),
			zap.Int64("cost", auth.Cost),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordCreditsCharged(auth.FeatureType.String(), auth.Cost)
		s.metrics.RecordGeneration(auth.FeatureType.String(), "success", time.Since(start))
	}
}

func (s *Service) release(ctx context.Context, auth *ledger.Authorization, start time.Time, cause error) {
	if err := s.ledger.Release(ctx, auth); err != nil {
		s.logger.Error("authorization release failed", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration(auth.FeatureType.String(), "failure", time.Since(start))
	}
	s.logger.Warn("generation failed",
		zap.String("account_id", auth.AccountID.String()),
		zap.String("feature", auth.FeatureType.String()),
		zap.Error(cause),
	)
}

func validateImageRequest(req *ImageRequest) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.GarmentImageURLs) == 0 {
		return fmt.Errorf("%w: prompt or garment images required", ErrValidation)
	}
	if len(req.GarmentImageURLs) > 6 {
		return fmt.Errorf("%w: at most 6 garment images", ErrValidation)
	}
	return nil
}

func artifactKey(accountID uuid.UUID, contentType string) string {
	ext := ".png"
	if contentType == "image/jpeg" {
		ext = ".jpg"
	} else if contentType == "image/webp" {
		ext = ".webp"
	}
	return fmt.Sprintf("generations/%s/%s%s", accountID, uuid.New(), ext)
}
