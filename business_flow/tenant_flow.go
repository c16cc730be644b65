package businessflow

import (
	"context"

	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
)

// TenantFlow resolves the acting clinic for an authenticated request. The
// clinic claim on the IdP token wins when present; otherwise the membership
// table decides. Resolution always happens explicitly at the start of a
// request, never lazily inside another flow.
type TenantFlow interface {
	Resolve(ctx context.Context, claims *services.IdentityClaims) (*Tenant, error)
}

// Tenant is the resolved acting clinic plus the membership it came from.
// Member is nil when resolution went through the token's clinic claim.
type Tenant struct {
	Clinic *models.Clinic
	Member *models.ClinicMember
}

type TenantFlowImpl struct {
	clinicRepo repository.ClinicRepository
	memberRepo repository.ClinicMemberRepository
}

func NewTenantFlow(clinicRepo repository.ClinicRepository, memberRepo repository.ClinicMemberRepository) TenantFlow {
	return &TenantFlowImpl{clinicRepo: clinicRepo, memberRepo: memberRepo}
}

func (f *TenantFlowImpl) Resolve(ctx context.Context, claims *services.IdentityClaims) (*Tenant, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrMembershipNotFound
	}

	if claims.ClinicUUID != "" {
		clinic, err := f.clinicRepo.ByUUID(ctx, claims.ClinicUUID)
		if err != nil {
			return nil, NewBusinessError("TENANT_LOOKUP_FAILED", "Failed to lookup clinic", err)
		}
		if clinic == nil {
			return nil, ErrClinicNotFound
		}
		if clinic.IsActive == nil || !*clinic.IsActive {
			return nil, ErrClinicInactive
		}
		return &Tenant{Clinic: clinic}, nil
	}

	member, err := f.memberRepo.BySubject(ctx, claims.Subject)
	if err != nil {
		return nil, NewBusinessError("TENANT_LOOKUP_FAILED", "Failed to lookup clinic membership", err)
	}
	if member == nil {
		return nil, ErrMembershipNotFound
	}

	clinic, err := f.clinicRepo.ByID(ctx, member.ClinicID)
	if err != nil {
		return nil, NewBusinessError("TENANT_LOOKUP_FAILED", "Failed to lookup clinic", err)
	}
	if clinic == nil {
		return nil, ErrClinicNotFound
	}
	if clinic.IsActive == nil || !*clinic.IsActive {
		return nil, ErrClinicInactive
	}

	return &Tenant{Clinic: clinic, Member: member}, nil
}
