package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/model"
)

func TestQueueNarrationPublishesJobID(t *testing.T) {
	repo := new(MockNarrationRepo)
	pub := new(MockPublisher)
	svc := NewNarrationService(repo, pub, "narration-jobs", new(MockObjectStore), time.Minute, zerolog.Nop())

	repo.On("CreateJob", mock.Anything, mock.MatchedBy(func(j *model.NarrationJob) bool {
		return j.Status == model.NarrationQueued && j.Style == model.StylePodcast
	})).Return(nil)
	pub.On("Publish", mock.Anything, "narration-jobs", []byte(`{"job_id":"job-1"}`)).Return("msg-1", nil)

	job, err := svc.Queue(context.Background(), "u1", "Cells", model.StylePodcast, "Mitochondria make ATP.")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestQueueNarrationMarksJobFailedWhenPublishFails(t *testing.T) {
	repo := new(MockNarrationRepo)
	pub := new(MockPublisher)
	svc := NewNarrationService(repo, pub, "narration-jobs", new(MockObjectStore), time.Minute, zerolog.Nop())

	repo.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	repo.On("Fail", mock.Anything, "job-1", mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("topic not found"))

	_, err := svc.Queue(context.Background(), "u1", "", model.StyleELI5, "text")
	assert.Error(t, err)
	repo.AssertCalled(t, "Fail", mock.Anything, "job-1", mock.Anything)
}

func TestQueueNarrationRejectsBadInput(t *testing.T) {
	svc := NewNarrationService(new(MockNarrationRepo), new(MockPublisher), "q", new(MockObjectStore), time.Minute, zerolog.Nop())

	_, err := svc.Queue(context.Background(), "u1", "", model.StyleLecturer, " ")
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = svc.Queue(context.Background(), "u1", "", "opera", "text")
	assert.Error(t, err)
}

func TestGetNarrationPresignsCompletedAudio(t *testing.T) {
	repo := new(MockNarrationRepo)
	store := new(MockObjectStore)
	svc := NewNarrationService(repo, new(MockPublisher), "q", store, 15*time.Minute, zerolog.Nop())

	path := "narrations/u1/job-1.mp3"
	repo.On("GetJob", mock.Anything, "job-1").Return(&model.NarrationJob{ID: "job-1", UserID: "u1", Status: model.NarrationComplete, StoragePath: &path}, nil)
	store.On("PresignGet", mock.Anything, path, 15*time.Minute).Return("https://storage/signed", nil)

	view, err := svc.Get(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://storage/signed", view.AudioURL)
}

func TestGetNarrationHidesOtherUsersJobs(t *testing.T) {
	repo := new(MockNarrationRepo)
	svc := NewNarrationService(repo, new(MockPublisher), "q", new(MockObjectStore), time.Minute, zerolog.Nop())

	repo.On("GetJob", mock.Anything, "job-1").Return(&model.NarrationJob{ID: "job-1", UserID: "u2", Status: model.NarrationQueued}, nil)
	repo.On("GetJob", mock.Anything, "job-2").Return(nil, nil)

	_, err := svc.Get(context.Background(), "u1", "job-1")
	assert.ErrorIs(t, err, ErrNarrationNotFound)
	_, err = svc.Get(context.Background(), "u1", "job-2")
	assert.ErrorIs(t, err, ErrNarrationNotFound)
}

func TestGetNarrationInProgressHasNoURL(t *testing.T) {
	repo := new(MockNarrationRepo)
	store := new(MockObjectStore)
	svc := NewNarrationService(repo, new(MockPublisher), "q", store, time.Minute, zerolog.Nop())

	repo.On("GetJob", mock.Anything, "job-1").Return(&model.NarrationJob{ID: "job-1", UserID: "u1", Status: model.NarrationGenerating}, nil)

	view, err := svc.Get(context.Background(), "u1", "job-1")
	require.NoError(t, err)
	assert.Empty(t, view.AudioURL)
	store.AssertNotCalled(t, "PresignGet", mock.Anything, mock.Anything, mock.Anything)
}
