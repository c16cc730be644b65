package businessflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
)

func TestTenantResolution(t *testing.T) {
	active := &models.Clinic{
		ID:       1,
		UUID:     uuid.New(),
		Name:     "Harborview Periodontics",
		IsActive: utils.ToPtr(true),
	}
	dormant := &models.Clinic{
		ID:       2,
		UUID:     uuid.New(),
		Name:     "Lakeside Dental",
		IsActive: utils.ToPtr(false),
	}
	member := &models.ClinicMember{
		ID:       1,
		ClinicID: active.ID,
		Subject:  "idp|staff-1",
	}
	dormantMember := &models.ClinicMember{
		ID:       2,
		ClinicID: dormant.ID,
		Subject:  "idp|staff-2",
	}

	flow := NewTenantFlow(
		newFakeClinicRepo(active, dormant),
		newFakeMemberRepo(member, dormantMember),
	)
	ctx := context.Background()

	t.Run("clinic claim wins over membership", func(t *testing.T) {
		tenant, err := flow.Resolve(ctx, &services.IdentityClaims{
			Subject:    "idp|staff-2",
			ClinicUUID: active.UUID.String(),
		})
		require.NoError(t, err)
		assert.Equal(t, active.ID, tenant.Clinic.ID)
		assert.Nil(t, tenant.Member)
	})

	t.Run("membership resolves the clinic without a claim", func(t *testing.T) {
		tenant, err := flow.Resolve(ctx, &services.IdentityClaims{Subject: "idp|staff-1"})
		require.NoError(t, err)
		assert.Equal(t, active.ID, tenant.Clinic.ID)
		require.NotNil(t, tenant.Member)
		assert.Equal(t, "idp|staff-1", tenant.Member.Subject)
	})

	t.Run("unknown clinic claim", func(t *testing.T) {
		_, err := flow.Resolve(ctx, &services.IdentityClaims{
			Subject:    "idp|staff-1",
			ClinicUUID: uuid.NewString(),
		})
		assert.ErrorIs(t, err, ErrClinicNotFound)
	})

	t.Run("inactive clinic via claim", func(t *testing.T) {
		_, err := flow.Resolve(ctx, &services.IdentityClaims{
			Subject:    "idp|staff-2",
			ClinicUUID: dormant.UUID.String(),
		})
		assert.ErrorIs(t, err, ErrClinicInactive)
	})

	t.Run("inactive clinic via membership", func(t *testing.T) {
		_, err := flow.Resolve(ctx, &services.IdentityClaims{Subject: "idp|staff-2"})
		assert.ErrorIs(t, err, ErrClinicInactive)
	})

	t.Run("subject without membership", func(t *testing.T) {
		_, err := flow.Resolve(ctx, &services.IdentityClaims{Subject: "idp|nobody"})
		assert.ErrorIs(t, err, ErrMembershipNotFound)
	})

	t.Run("missing claims", func(t *testing.T) {
		_, err := flow.Resolve(ctx, nil)
		assert.ErrorIs(t, err, ErrMembershipNotFound)
	})
}
