package model

import "errors"

var (
	ErrReferralNotFound            = errors.New("REFERRAL_NOT_FOUND")
	ErrReferralAlreadyPositioned   = errors.New("REFERRAL_ALREADY_POSITIONED")
	ErrReferralDuplicatePosition   = errors.New("REFERRAL_DUPLICATE_POSITION")
	ErrReferralSelfReference       = errors.New("REFERRAL_SELF_REFERENCE")
	ErrReferralCyclicReference     = errors.New("REFERRAL_CYCLIC_REFERENCE")
	ErrReferralDepthExceeded       = errors.New("REFERRAL_DEPTH_EXCEEDED")
	ErrReferralConcurrencyConflict = errors.New("REFERRAL_CONCURRENCY_CONFLICT")
	ErrReferralInvalidState        = errors.New("REFERRAL_INVALID_STATE")
	ErrReferralInvalidArgument     = errors.New("REFERRAL_INVALID_ARGUMENT")

	// ErrReferralMutationsDisabled when structural changes are switched off by a feature flag
	ErrReferralMutationsDisabled = errors.New("REFERRAL_MUTATIONS_DISABLED")
)

// IsReferralClientError reports whether err is caused by the request rather than the server
func IsReferralClientError(err error) bool {
	for _, e := range []error{
		ErrReferralNotFound,
		ErrReferralAlreadyPositioned,
		ErrReferralDuplicatePosition,
		ErrReferralSelfReference,
		ErrReferralCyclicReference,
		ErrReferralDepthExceeded,
		ErrReferralConcurrencyConflict,
		ErrReferralInvalidState,
		ErrReferralInvalidArgument,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
