package businessflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
)

// publicFlowFixture wires the link flow and the public flow against the same
// in-memory stores and a real token service, so access codes travel the full
// path from generation to bcrypt verification.
type publicFlowFixture struct {
	linkFlow      ReferralLinkFlow
	publicFlow    PublicReferralFlow
	referrals     *fakeReferralRepo
	links         *fakeLinkRepo
	audits        *fakeAuditRepo
	notifications *fakeNotificationService
	tenant        *Tenant
}

func newPublicFlowFixture() *publicFlowFixture {
	specialist := "Dr. A. Verhoeven"
	clinic := &models.Clinic{
		ID:             1,
		UUID:           uuid.New(),
		Name:           "Harborview Periodontics",
		ClinicType:     models.ClinicTypeSpecialist,
		SpecialistName: &specialist,
		IsActive:       utils.ToPtr(true),
	}
	member := &models.ClinicMember{
		ID:          1,
		ClinicID:    clinic.ID,
		Subject:     "idp|staff-1",
		DisplayName: "Front Desk",
		Role:        "staff",
	}

	referrals := newFakeReferralRepo()
	links := newFakeLinkRepo()
	audits := newFakeAuditRepo()
	notifications := &fakeNotificationService{}
	tokenService := services.NewTokenService(bcrypt.MinCost)

	return &publicFlowFixture{
		linkFlow:      NewReferralLinkFlow(nil, links, referrals, audits, tokenService),
		publicFlow:    NewPublicReferralFlow(nil, links, referrals, newFakeClinicRepo(clinic), newFakeAttachmentRepo(), audits, tokenService, notifications, nil, nil),
		referrals:     referrals,
		links:         links,
		audits:        audits,
		notifications: notifications,
		tenant:        &Tenant{Clinic: clinic, Member: member},
	}
}

func (fx *publicFlowFixture) createLink(t *testing.T, label string) *dto.CreateReferralLinkResponse {
	t.Helper()
	resp, err := fx.linkFlow.Create(context.Background(), fx.tenant, &dto.CreateReferralLinkRequest{Label: label}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Link.Token)
	require.NotEmpty(t, resp.AccessCode)
	return resp
}

func TestLinkMetadata(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	meta, err := fx.publicFlow.LinkMetadata(ctx, created.Link.Token)
	require.NoError(t, err)
	assert.Equal(t, "Harborview Periodontics", meta.ClinicName)
	require.NotNil(t, meta.SpecialistName)
	assert.Equal(t, "Dr. A. Verhoeven", *meta.SpecialistName)
	assert.Equal(t, "GP intake west", meta.Label)

	_, err = fx.publicFlow.LinkMetadata(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrLinkUnauthorized)
}

func TestVerifyAccessCodeLifecycle(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	_, err := fx.publicFlow.VerifyAccess(ctx, created.Link.Token, created.AccessCode, nil)
	require.NoError(t, err)

	_, err = fx.publicFlow.VerifyAccess(ctx, created.Link.Token, "99999999", nil)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)

	rotated, err := fx.linkFlow.RegenerateAccessCode(ctx, fx.tenant, &dto.RegenerateAccessCodeRequest{UUID: created.Link.UUID}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessCode)

	// The old code stops working the moment the rotation lands.
	_, err = fx.publicFlow.VerifyAccess(ctx, created.Link.Token, created.AccessCode, nil)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)

	_, err = fx.publicFlow.VerifyAccess(ctx, created.Link.Token, rotated.AccessCode, nil)
	require.NoError(t, err)
}

func TestInactiveLinkIsIndistinguishableFromUnknown(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	_, err := fx.linkFlow.Update(ctx, fx.tenant, &dto.UpdateReferralLinkRequest{
		UUID:     created.Link.UUID,
		IsActive: utils.ToPtr(false),
	}, nil)
	require.NoError(t, err)

	_, errInactive := fx.publicFlow.VerifyAccess(ctx, created.Link.Token, created.AccessCode, nil)
	_, errUnknown := fx.publicFlow.VerifyAccess(ctx, "no-such-token", created.AccessCode, nil)
	assert.ErrorIs(t, errInactive, ErrLinkUnauthorized)
	assert.Equal(t, errUnknown, errInactive)

	_, err = fx.publicFlow.LinkMetadata(ctx, created.Link.Token)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)
}

func TestSubmitCreatesIncomingReferral(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	mobile := "+31612345678"
	resp, err := fx.publicFlow.Submit(ctx, created.Link.Token, &dto.SubmitReferralRequest{
		AccessCode:    created.AccessCode,
		PatientName:   "Jane Doe",
		PatientMobile: &mobile,
		Reason:        "Persistent molar pain",
		Symptoms:      []string{"swelling", "pain on chewing"},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.StatusToken)
	assert.NotEqual(t, created.Link.Token, resp.StatusToken)

	referral, err := fx.referrals.ByUUID(ctx, resp.UUID)
	require.NoError(t, err)
	require.NotNil(t, referral)
	assert.Equal(t, models.ReferralTypeIncoming, referral.ReferralType)
	assert.Equal(t, models.ReferralStatusSubmitted, referral.Status)
	assert.Equal(t, fx.tenant.Clinic.ID, referral.FromClinicID)
	require.NotNil(t, referral.ReferralLinkID)
	require.NotNil(t, referral.StatusAccessCodeHash)

	require.Len(t, fx.notifications.notifications, 1)
	assert.Equal(t, models.NotificationTypeReferralSubmitted, fx.notifications.notifications[0].Type)

	listed, err := fx.linkFlow.List(ctx, fx.tenant)
	require.NoError(t, err)
	require.Len(t, listed.Links, 1)
	assert.Equal(t, int64(1), listed.Links[0].ReferralCount)
}

func TestSubmitRejectsWrongCode(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	_, err := fx.publicFlow.Submit(ctx, created.Link.Token, &dto.SubmitReferralRequest{
		AccessCode:  "99999999",
		PatientName: "Jane Doe",
		Reason:      "Persistent molar pain",
	}, nil)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)

	count, err := fx.referrals.Count(ctx, models.ReferralFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStatusPageGatedByInheritedCode(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	submitted, err := fx.publicFlow.Submit(ctx, created.Link.Token, &dto.SubmitReferralRequest{
		AccessCode:  created.AccessCode,
		PatientName: "Jane Doe",
		Reason:      "Persistent molar pain",
	}, nil)
	require.NoError(t, err)

	status, err := fx.publicFlow.Status(ctx, submitted.StatusToken, created.AccessCode, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusSubmitted.String(), status.Status)
	assert.Equal(t, "Harborview Periodontics", status.ClinicName)
	assert.Equal(t, "Jane Doe", status.PatientName)
	require.Len(t, status.Timeline, len(TimelineStages))
	assert.True(t, status.Timeline[0].Current)

	_, err = fx.publicFlow.Status(ctx, submitted.StatusToken, "99999999", nil)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)

	_, err = fx.publicFlow.Status(ctx, "no-such-token", created.AccessCode, nil)
	assert.ErrorIs(t, err, ErrLinkUnauthorized)

	// Rotating the link code does not lock out patients holding the old one;
	// the referral keeps the hash it was submitted under.
	_, err = fx.linkFlow.RegenerateAccessCode(ctx, fx.tenant, &dto.RegenerateAccessCodeRequest{UUID: created.Link.UUID}, nil)
	require.NoError(t, err)

	_, err = fx.publicFlow.Status(ctx, submitted.StatusToken, created.AccessCode, nil)
	require.NoError(t, err)
}

func TestForeignLinksStayHidden(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	stranger := &Tenant{Clinic: &models.Clinic{
		ID:       99,
		UUID:     uuid.New(),
		Name:     "Lakeside Dental",
		IsActive: utils.ToPtr(true),
	}}

	_, err := fx.linkFlow.RegenerateAccessCode(ctx, stranger, &dto.RegenerateAccessCodeRequest{UUID: created.Link.UUID}, nil)
	assert.ErrorIs(t, err, ErrLinkNotFound)

	_, err = fx.linkFlow.Update(ctx, stranger, &dto.UpdateReferralLinkRequest{
		UUID:     created.Link.UUID,
		IsActive: utils.ToPtr(false),
	}, nil)
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestPublicFailuresAreAudited(t *testing.T) {
	fx := newPublicFlowFixture()
	ctx := context.Background()
	created := fx.createLink(t, "GP intake west")

	_, _ = fx.publicFlow.VerifyAccess(ctx, created.Link.Token, "99999999", NewClientMetadata("203.0.113.7", "curl/8.0"))

	failed, err := fx.audits.ListFailedActions(ctx, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, failed)
	assert.Equal(t, models.AuditActionPublicVerifyFailed, failed[0].Action)
	require.NotNil(t, failed[0].IPAddress)
	assert.Equal(t, "203.0.113.7", *failed[0].IPAddress)
}
