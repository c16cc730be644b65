// Package businessflow contains the core business logic and use cases for referral workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Clinic and tenant errors
	ErrClinicNotFound     = errors.New("clinic not found")
	ErrClinicInactive     = errors.New("clinic is inactive")
	ErrMembershipNotFound = errors.New("no clinic membership for subject")

	// Link errors
	ErrLinkNotFound = errors.New("referral link not found")
	// ErrLinkUnauthorized covers every public access failure on a link:
	// unknown token, inactive link and wrong access code all map here so a
	// caller probing codes cannot tell the cases apart.
	ErrLinkUnauthorized = errors.New("link access unauthorized")

	// Referral errors
	ErrReferralNotFound     = errors.New("referral not found")
	ErrReferralAccessDenied = errors.New("referral access denied")

	// Status machine errors
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidTransition   = errors.New("transition not allowed from current status")
	ErrTerminalStatus      = errors.New("referral is in a terminal status")
	ErrRevertNotAllowed    = errors.New("revert target must be an earlier stage")
	ErrNotCanonicalStage   = errors.New("status is not a canonical stage")
	ErrPatientContactEmpty = errors.New("referral has no patient contact")

	// Demo progression errors
	ErrDemoDisabled           = errors.New("demo progression is disabled")
	ErrProgressionAlreadyRuns = errors.New("progression already scheduled for referral")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsClinicNotFound(err error) bool {
	return errors.Is(err, ErrClinicNotFound)
}

func IsClinicInactive(err error) bool {
	return errors.Is(err, ErrClinicInactive)
}

func IsMembershipNotFound(err error) bool {
	return errors.Is(err, ErrMembershipNotFound)
}

func IsLinkNotFound(err error) bool {
	return errors.Is(err, ErrLinkNotFound)
}

func IsLinkUnauthorized(err error) bool {
	return errors.Is(err, ErrLinkUnauthorized)
}

func IsReferralNotFound(err error) bool {
	return errors.Is(err, ErrReferralNotFound)
}

func IsReferralAccessDenied(err error) bool {
	return errors.Is(err, ErrReferralAccessDenied)
}

func IsInvalidStatus(err error) bool {
	return errors.Is(err, ErrInvalidStatus)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsTerminalStatus(err error) bool {
	return errors.Is(err, ErrTerminalStatus)
}

func IsRevertNotAllowed(err error) bool {
	return errors.Is(err, ErrRevertNotAllowed)
}

func IsNotCanonicalStage(err error) bool {
	return errors.Is(err, ErrNotCanonicalStage)
}

func IsDemoDisabled(err error) bool {
	return errors.Is(err, ErrDemoDisabled)
}

func IsProgressionAlreadyRuns(err error) bool {
	return errors.Is(err, ErrProgressionAlreadyRuns)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}
