package businessflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refermed/refermed/models"
)

func TestBuildTimeline(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	later := now.Add(48 * time.Hour)

	tests := []struct {
		name          string
		referral      *models.Referral
		wantCompleted []bool
		wantCurrent   int
	}{
		{
			name:          "fresh submission has no completed stages",
			referral:      &models.Referral{Status: models.ReferralStatusSubmitted},
			wantCompleted: []bool{false, false, false, false},
			wantCurrent:   0,
		},
		{
			name: "accepted referral completed the first two stages",
			referral: &models.Referral{
				Status:      models.ReferralStatusAccepted,
				AcceptedAt:  &now,
				ScheduledAt: &now,
			},
			wantCompleted: []bool{true, true, false, false},
			wantCurrent:   2,
		},
		{
			name: "sent referral waits on post-op scheduling",
			referral: &models.Referral{
				Status:      models.ReferralStatusSent,
				AcceptedAt:  &now,
				ScheduledAt: &now,
				CompletedAt: &later,
			},
			wantCompleted: []bool{true, true, true, false},
			wantCurrent:   3,
		},
		{
			name: "fully stamped referral keeps the last stage current",
			referral: &models.Referral{
				Status:            models.ReferralStatusCompleted,
				AcceptedAt:        &now,
				ScheduledAt:       &now,
				CompletedAt:       &later,
				PostOpScheduledAt: &later,
			},
			wantCompleted: []bool{true, true, true, true},
			wantCurrent:   3,
		},
		{
			name: "cancelled referral keeps stamps but marks nothing current",
			referral: &models.Referral{
				Status:      models.ReferralStatusCancelled,
				AcceptedAt:  &now,
				ScheduledAt: &now,
			},
			wantCompleted: []bool{true, true, false, false},
			wantCurrent:   -1,
		},
		{
			name:          "rejected referral without stamps marks nothing current",
			referral:      &models.Referral{Status: models.ReferralStatusRejected},
			wantCompleted: []bool{false, false, false, false},
			wantCurrent:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeline := BuildTimeline(tt.referral)
			require.Len(t, timeline, len(TimelineStages))

			for i, stage := range timeline {
				assert.Equal(t, TimelineStages[i], stage.Stage)
				assert.Equal(t, tt.wantCompleted[i], stage.Completed, "stage %s completed", stage.Stage)
				assert.Equal(t, i == tt.wantCurrent, stage.Current, "stage %s current", stage.Stage)
				if stage.Completed {
					assert.NotNil(t, stage.OccurredAt)
				} else {
					assert.Nil(t, stage.OccurredAt)
				}
			}
		})
	}
}

func TestBuildTimelineStageOrder(t *testing.T) {
	want := []string{
		StageReferralAccepted,
		StageAppointmentScheduled,
		StageAppointmentCompleted,
		StagePostOpTreatmentScheduled,
	}
	assert.Equal(t, want, TimelineStages)
}
