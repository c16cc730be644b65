package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refermed/refermed/app/dto"
	businessflow "github.com/refermed/refermed/business_flow"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
)

// Steps far beyond the test runtime keep the timers from firing; these tests
// cover the job registry semantics only.
func newIdleScheduler() *DemoProgressionScheduler {
	return NewDemoProgressionScheduler(nil, nil, nil, nil, time.Hour, time.Hour)
}

func TestScheduleProgressionIsPerReferralSingleton(t *testing.T) {
	s := newIdleScheduler()
	defer s.Shutdown()

	require.True(t, s.ScheduleProgression(42))
	assert.False(t, s.ScheduleProgression(42), "duplicate scheduling must be a no-op")
	assert.False(t, s.ScheduleFastProgression(42), "mode change does not bypass the registry")
	assert.Equal(t, 1, s.ActiveJobs())

	require.True(t, s.ScheduleFastProgression(7))
	assert.Equal(t, 2, s.ActiveJobs())
}

func TestCancelFreesTheRegistrySlot(t *testing.T) {
	s := newIdleScheduler()
	defer s.Shutdown()

	require.True(t, s.ScheduleProgression(42))
	assert.True(t, s.Cancel(42))
	assert.False(t, s.Cancel(42), "second cancel finds nothing")
	assert.Equal(t, 0, s.ActiveJobs())

	// The referral can be scheduled again after a cancel.
	assert.True(t, s.ScheduleProgression(42))
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	s := newIdleScheduler()

	require.True(t, s.ScheduleProgression(42))
	require.True(t, s.ScheduleFastProgression(7))

	s.Shutdown()
	assert.Equal(t, 0, s.ActiveJobs())
	assert.False(t, s.ScheduleProgression(99))
	assert.False(t, s.ScheduleFastProgression(99))
}

// progressionRecorder is an in-memory ReferralStatusFlow that mirrors the
// conditional-advance contract: a move applies only while the stored status
// sits strictly below the target in the canonical order.
type progressionRecorder struct {
	mu      sync.Mutex
	current map[uint]models.ReferralStatus
	applied []models.ReferralStatus
}

func (f *progressionRecorder) Transition(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *businessflow.ClientMetadata) (*dto.UpdateReferralStatusResponse, error) {
	return nil, nil
}

func (f *progressionRecorder) RevertStage(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *businessflow.ClientMetadata) (*dto.UpdateReferralStatusResponse, error) {
	return nil, nil
}

func (f *progressionRecorder) AdvanceAt(ctx context.Context, referralID uint, target models.ReferralStatus, stamps repository.StageStamps) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	targetIdx, ok := target.OrderIndex()
	if !ok {
		return false, nil
	}
	if curIdx, ok := f.current[referralID].OrderIndex(); ok && curIdx >= targetIdx {
		return false, nil
	}
	f.current[referralID] = target
	f.applied = append(f.applied, target)
	return true, nil
}

func (f *progressionRecorder) Applied() []models.ReferralStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReferralStatus, len(f.applied))
	copy(out, f.applied)
	return out
}

type attachmentRecorder struct {
	mu    sync.Mutex
	saved []*models.ReferralAttachment
}

func (f *attachmentRecorder) ByID(ctx context.Context, id uint) (*models.ReferralAttachment, error) {
	return nil, nil
}

func (f *attachmentRecorder) ByFilter(ctx context.Context, filter models.ReferralAttachmentFilter, orderBy string, limit, offset int) ([]*models.ReferralAttachment, error) {
	return nil, nil
}

func (f *attachmentRecorder) Save(ctx context.Context, entity *models.ReferralAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, entity)
	return nil
}

func (f *attachmentRecorder) SaveBatch(ctx context.Context, entities []*models.ReferralAttachment) error {
	return nil
}

func (f *attachmentRecorder) Count(ctx context.Context, filter models.ReferralAttachmentFilter) (int64, error) {
	return 0, nil
}

func (f *attachmentRecorder) Exists(ctx context.Context, filter models.ReferralAttachmentFilter) (bool, error) {
	return false, nil
}

func (f *attachmentRecorder) ListByReferral(ctx context.Context, referralID uint) ([]*models.ReferralAttachment, error) {
	return nil, nil
}

func (f *attachmentRecorder) Saved() []*models.ReferralAttachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.ReferralAttachment, len(f.saved))
	copy(out, f.saved)
	return out
}

func TestFastProgressionFiresAllStages(t *testing.T) {
	statusFlow := &progressionRecorder{
		current: map[uint]models.ReferralStatus{7: models.ReferralStatusSubmitted},
	}
	attachments := &attachmentRecorder{}
	s := NewDemoProgressionScheduler(statusFlow, nil, attachments, log.New(io.Discard, "", 0), time.Hour, 10*time.Millisecond)
	defer s.Shutdown()

	require.True(t, s.ScheduleFastProgression(7))
	require.Eventually(t, func() bool { return s.ActiveJobs() == 0 }, 2*time.Second, 5*time.Millisecond,
		"all three timers should fire and drain the registry")

	assert.Equal(t, []models.ReferralStatus{
		models.ReferralStatusAccepted,
		models.ReferralStatusSent,
		models.ReferralStatusCompleted,
	}, statusFlow.Applied())

	// The sent milestone attaches the synthetic visit files
	saved := attachments.Saved()
	require.Len(t, saved, 2)
	for _, attachment := range saved {
		assert.Equal(t, uint(7), attachment.ReferralID)
		require.NotNil(t, attachment.IsDemo)
		assert.True(t, *attachment.IsDemo)
		assert.NotEmpty(t, attachment.StorageKey)
	}
}

func TestFiringSkipsReferralAlreadyPastTarget(t *testing.T) {
	statusFlow := &progressionRecorder{
		current: map[uint]models.ReferralStatus{9: models.ReferralStatusCompleted},
	}
	attachments := &attachmentRecorder{}
	s := NewDemoProgressionScheduler(statusFlow, nil, attachments, log.New(io.Discard, "", 0), time.Hour, 10*time.Millisecond)
	defer s.Shutdown()

	require.True(t, s.ScheduleFastProgression(9))
	require.Eventually(t, func() bool { return s.ActiveJobs() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Every step found the referral at or past its target; nothing applied,
	// nothing attached.
	assert.Empty(t, statusFlow.Applied())
	assert.Empty(t, attachments.Saved())
}
