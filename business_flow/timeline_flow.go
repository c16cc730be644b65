package businessflow

import (
	"time"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/models"
)

// Treatment timeline stage keys, in display order
const (
	StageReferralAccepted         = "referral_accepted"
	StageAppointmentScheduled     = "appointment_scheduled"
	StageAppointmentCompleted     = "appointment_completed"
	StagePostOpTreatmentScheduled = "post_op_treatment_scheduled"
)

// TimelineStages lists the stage keys in display order
var TimelineStages = []string{
	StageReferralAccepted,
	StageAppointmentScheduled,
	StageAppointmentCompleted,
	StagePostOpTreatmentScheduled,
}

// BuildTimeline derives the patient-facing treatment timeline from a referral
// snapshot. It is a pure function of the referral's stamps and status: a stage
// is completed when its timestamp is set, and the current stage is the first
// incomplete one (the last stage once everything is stamped). Terminal
// referrals keep their completed stages but mark nothing as current.
func BuildTimeline(referral *models.Referral) []dto.TimelineStageDTO {
	stamps := []*time.Time{
		referral.AcceptedAt,
		referral.ScheduledAt,
		referral.CompletedAt,
		referral.PostOpScheduledAt,
	}

	currentIdx := len(TimelineStages) - 1
	for i, ts := range stamps {
		if ts == nil {
			currentIdx = i
			break
		}
	}
	if referral.Status.IsTerminal() {
		currentIdx = -1
	}

	out := make([]dto.TimelineStageDTO, 0, len(TimelineStages))
	for i, stage := range TimelineStages {
		out = append(out, dto.TimelineStageDTO{
			Stage:      stage,
			Completed:  stamps[i] != nil,
			Current:    i == currentIdx,
			OccurredAt: stamps[i],
		})
	}
	return out
}
