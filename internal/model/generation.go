package model

import (
	"time"

	"github.com/google/uuid"
)

// FeatureType is the cost bucket a generation request is classified into
// before authorization.
type FeatureType string

const (
	FeatureText   FeatureType = "text"
	FeatureImage  FeatureType = "image"
	FeatureTryOn  FeatureType = "try_on"
	FeatureAvatar FeatureType = "avatar"
	FeatureVideo  FeatureType = "video"
)

// String returns the string representation of the feature type.
func (f FeatureType) String() string {
	return string(f)
}

// IsValid checks if the feature type is valid.
func (f FeatureType) IsValid() bool {
	switch f {
	case FeatureText, FeatureImage, FeatureTryOn, FeatureAvatar, FeatureVideo:
		return true
	}
	return false
}

// JobState represents the state of an async generation job.
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// IsTerminal returns true if no further transition occurs from this state.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// GenerationJob tracks a long-running video generation job.
type GenerationJob struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID      uuid.UUID  `json:"account_id" gorm:"type:uuid;not null;index"`
	State          JobState   `json:"state" gorm:"not null"`
	ProviderJobID  string     `json:"provider_job_id" gorm:"index"`
	AttemptCount   int        `json:"attempt_count" gorm:"not null;default:0"`
	LastPolledAt   *time.Time `json:"last_polled_at,omitempty"`
	ResultURL      string     `json:"result_url,omitempty"`
	FailureMessage string     `json:"failure_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (GenerationJob) TableName() string {
	return "generation_jobs"
}
