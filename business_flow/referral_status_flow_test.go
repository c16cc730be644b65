package businessflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
)

type statusFlowFixture struct {
	flow          ReferralStatusFlow
	referrals     *fakeReferralRepo
	audits        *fakeAuditRepo
	notifications *fakeNotificationService
	clinic        *models.Clinic
	otherClinic   *models.Clinic
}

func newStatusFlowFixture() *statusFlowFixture {
	clinic := &models.Clinic{
		ID:         1,
		UUID:       uuid.New(),
		Name:       "Harborview Periodontics",
		ClinicType: models.ClinicTypeSpecialist,
		IsActive:   utils.ToPtr(true),
	}
	otherClinic := &models.Clinic{
		ID:         2,
		UUID:       uuid.New(),
		Name:       "Lakeside Dental",
		ClinicType: models.ClinicTypeGeneralPractice,
		IsActive:   utils.ToPtr(true),
	}

	referrals := newFakeReferralRepo()
	audits := newFakeAuditRepo()
	notifications := &fakeNotificationService{}

	return &statusFlowFixture{
		flow:          NewReferralStatusFlow(referrals, newFakeClinicRepo(clinic, otherClinic), audits, notifications),
		referrals:     referrals,
		audits:        audits,
		notifications: notifications,
		clinic:        clinic,
		otherClinic:   otherClinic,
	}
}

func (fx *statusFlowFixture) seedReferral(t *testing.T, status models.ReferralStatus) *models.Referral {
	t.Helper()
	mobile := "+31612345678"
	referral := &models.Referral{
		UUID:          uuid.New(),
		ReferralType:  models.ReferralTypeIncoming,
		Status:        status,
		FromClinicID:  fx.clinic.ID,
		PatientName:   "Jane Doe",
		PatientMobile: &mobile,
		Reason:        "Persistent molar pain",
		StatusToken:   uuid.NewString(),
	}
	require.NoError(t, fx.referrals.Save(context.Background(), referral))
	return referral
}

func TestTransitionStampsStepwise(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	resp, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)
	assert.Equal(t, "Referral status updated", resp.Message)

	row, err := fx.referrals.ByID(ctx, referral.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusAccepted, row.Status)
	require.NotNil(t, row.AcceptedAt)
	require.NotNil(t, row.ScheduledAt)
	assert.Equal(t, *row.AcceptedAt, *row.ScheduledAt)
	assert.Nil(t, row.CompletedAt)
	assert.Nil(t, row.PostOpScheduledAt)

	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	require.NoError(t, err)

	row, _ = fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusSent, row.Status)
	require.NotNil(t, row.CompletedAt)
	assert.Nil(t, row.PostOpScheduledAt)
}

func TestTransitionSkipStampsAllIntermediateStages(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusCompleted, nil)
	require.NoError(t, err)

	row, _ := fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusCompleted, row.Status)
	require.NotNil(t, row.AcceptedAt)
	require.NotNil(t, row.ScheduledAt)
	require.NotNil(t, row.CompletedAt)
	require.NotNil(t, row.PostOpScheduledAt)
	assert.Equal(t, *row.AcceptedAt, *row.CompletedAt)
	assert.Equal(t, *row.AcceptedAt, *row.PostOpScheduledAt)
}

func TestTransitionStampsAreWriteOnce(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)

	row, _ := fx.referrals.ByID(ctx, referral.ID)
	firstAcceptedAt := *row.AcceptedAt

	_, err = fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSubmitted, nil)
	require.NoError(t, err)

	row, _ = fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusSubmitted, row.Status)
	require.NotNil(t, row.AcceptedAt, "revert must not clear stamps")
	assert.Equal(t, firstAcceptedAt, *row.AcceptedAt)

	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	require.NoError(t, err)

	row, _ = fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, firstAcceptedAt, *row.AcceptedAt, "second pass must not overwrite the stamp")
	require.NotNil(t, row.CompletedAt)
}

func TestTransitionSameTargetIsIdempotent(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusAccepted)

	resp, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)
	assert.Equal(t, "Referral status unchanged", resp.Message)
	assert.Empty(t, fx.audits.actions())
}

func TestTransitionBackwardRejected(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSent)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionTerminalAbsorbs(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusAccepted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusCancelled, nil)
	require.NoError(t, err)

	row, _ := fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusCancelled, row.Status)
	assert.Nil(t, row.AcceptedAt, "terminal exit stamps nothing")

	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusRejected, nil)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	_, err = fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSubmitted, nil)
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestTransitionRejectsDraftAndUnknownTargets(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusDraft, nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatus("archived"), nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTransitionTenantOwnership(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.otherClinic, models.ReferralStatusAccepted, nil)
	assert.ErrorIs(t, err, ErrReferralAccessDenied)

	_, err = fx.flow.Transition(ctx, uuid.NewString(), fx.clinic, models.ReferralStatusAccepted, nil)
	assert.ErrorIs(t, err, ErrReferralNotFound)
}

func TestTransitionNotifiesOnAcceptance(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)

	require.Len(t, fx.notifications.notifications, 1)
	assert.Equal(t, models.NotificationTypeReferralAccepted, fx.notifications.notifications[0].Type)
	assert.Equal(t, fx.clinic.ID, fx.notifications.notifications[0].ClinicID)
	require.Len(t, fx.notifications.smsMessages, 1)
	assert.Contains(t, fx.notifications.smsMessages[0], fx.clinic.Name)

	// Moving on does not repeat the acceptance notification.
	_, err = fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	require.NoError(t, err)
	assert.Len(t, fx.notifications.notifications, 1)
	assert.Len(t, fx.notifications.smsMessages, 1)
}

func TestTransitionNotifiesViaEmailWithoutMobile(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	email := "jane@example.com"
	referral := &models.Referral{
		UUID:         uuid.New(),
		ReferralType: models.ReferralTypeIncoming,
		Status:       models.ReferralStatusSubmitted,
		FromClinicID: fx.clinic.ID,
		PatientName:  "Jane Doe",
		PatientEmail: &email,
		StatusToken:  uuid.NewString(),
	}
	require.NoError(t, fx.referrals.Save(ctx, referral))

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)

	assert.Empty(t, fx.notifications.smsMessages)
	require.Len(t, fx.notifications.emailMessages, 1)
}

func TestRevertStageChangesStatusOnly(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	require.NoError(t, err)

	resp, err := fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	require.NoError(t, err)
	assert.Equal(t, "Referral status reverted", resp.Message)

	row, _ := fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusAccepted, row.Status)
	require.NotNil(t, row.CompletedAt, "stamps survive the revert")
}

func TestRevertStageRejectsForwardAndNonCanonicalTargets(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusAccepted)

	_, err := fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusAccepted, nil)
	assert.ErrorIs(t, err, ErrRevertNotAllowed)

	_, err = fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusSent, nil)
	assert.ErrorIs(t, err, ErrRevertNotAllowed)

	_, err = fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusCancelled, nil)
	assert.ErrorIs(t, err, ErrNotCanonicalStage)

	_, err = fx.flow.RevertStage(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusDraft, nil)
	assert.ErrorIs(t, err, ErrNotCanonicalStage)
}

func TestAdvanceAtSkipsWhenAlreadyPastTarget(t *testing.T) {
	fx := newStatusFlowFixture()
	ctx := context.Background()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	// A manual transition races ahead of the scheduled step.
	_, err := fx.flow.Transition(ctx, referral.UUID.String(), fx.clinic, models.ReferralStatusCompleted, nil)
	require.NoError(t, err)

	row, _ := fx.referrals.ByID(ctx, referral.ID)
	manualStamp := *row.AcceptedAt

	advanced, err := fx.flow.AdvanceAt(ctx, referral.ID, models.ReferralStatusAccepted,
		StampsForTarget(models.ReferralStatusAccepted, utils.UTCNow()))
	require.NoError(t, err)
	assert.False(t, advanced)

	row, _ = fx.referrals.ByID(ctx, referral.ID)
	assert.Equal(t, models.ReferralStatusCompleted, row.Status)
	assert.Equal(t, manualStamp, *row.AcceptedAt)
}

func TestAdvanceAtRejectsNonCanonicalTarget(t *testing.T) {
	fx := newStatusFlowFixture()
	referral := fx.seedReferral(t, models.ReferralStatusSubmitted)

	_, err := fx.flow.AdvanceAt(context.Background(), referral.ID, models.ReferralStatusCancelled, repository.StageStamps{})
	assert.ErrorIs(t, err, ErrNotCanonicalStage)
}

func TestStampsForTarget(t *testing.T) {
	at := utils.UTCNow()

	tests := []struct {
		target   models.ReferralStatus
		accepted bool
		complete bool
		postOp   bool
	}{
		{models.ReferralStatusSubmitted, false, false, false},
		{models.ReferralStatusAccepted, true, false, false},
		{models.ReferralStatusSent, true, true, false},
		{models.ReferralStatusCompleted, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			stamps := StampsForTarget(tt.target, at)
			assert.Equal(t, tt.accepted, stamps.AcceptedAt != nil)
			assert.Equal(t, tt.accepted, stamps.ScheduledAt != nil)
			assert.Equal(t, tt.complete, stamps.CompletedAt != nil)
			assert.Equal(t, tt.postOp, stamps.PostOpScheduledAt != nil)
		})
	}

	assert.Equal(t, repository.StageStamps{}, StampsForTarget(models.ReferralStatusCancelled, at))
}
