package lending

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by the engine wraps exactly one of them.
var (
	ErrAuthorization = errors.New("lending: authorization failure")
	ErrPrecondition  = errors.New("lending: state precondition failure")
	ErrTemporal      = errors.New("lending: temporal failure")
	ErrCapacity      = errors.New("lending: capacity failure")
	ErrCollaborator  = errors.New("lending: collaborator failure")
	ErrInvalidInput  = errors.New("lending: invalid input")
)

var (
	ErrNotOwner                = fmt.Errorf("%w: caller is not the owner", ErrAuthorization)
	ErrWranglerInactive        = fmt.Errorf("%w: wrangler not authorized", ErrAuthorization)
	ErrCreatorSignature        = fmt.Errorf("%w: kernel creator signature mismatch", ErrAuthorization)
	ErrWranglerSignature       = fmt.Errorf("%w: wrangler signature mismatch", ErrAuthorization)
	ErrCancelSignature         = fmt.Errorf("%w: caller did not sign kernel", ErrAuthorization)
	ErrCallerNotBorrower       = fmt.Errorf("%w: caller is not the borrower", ErrAuthorization)
	ErrCallerNotLenderWrangler = fmt.Errorf("%w: caller is neither lender nor wrangler", ErrAuthorization)
	ErrCallerNotFiller         = fmt.Errorf("%w: caller is not the filling counterparty", ErrAuthorization)
	ErrCallerNotCreator        = fmt.Errorf("%w: caller is not the kernel creator", ErrAuthorization)
	ErrPositionNotFound        = fmt.Errorf("%w: position not found", ErrPrecondition)
	ErrPositionNotOpen         = fmt.Errorf("%w: position not open", ErrPrecondition)
	ErrPositionLocked          = fmt.Errorf("%w: position locked", ErrPrecondition)
	ErrPositionNotLocked       = fmt.Errorf("%w: position not locked", ErrPrecondition)
	ErrPositionExists          = fmt.Errorf("%w: position already exists", ErrPrecondition)
	ErrNonceMismatch           = fmt.Errorf("%w: wrangler nonce mismatch", ErrPrecondition)
	ErrOwnerAlreadySet         = fmt.Errorf("%w: owner already set", ErrPrecondition)
	ErrKernelExpired           = fmt.Errorf("%w: kernel expired", ErrTemporal)
	ErrApprovalExpired         = fmt.Errorf("%w: wrangler approval expired", ErrTemporal)
	ErrPositionExpired         = fmt.Errorf("%w: position expired", ErrTemporal)
	ErrPositionNotExpired      = fmt.Errorf("%w: position not expired", ErrTemporal)
	ErrInsufficientVolume      = fmt.Errorf("%w: amount exceeds remaining kernel volume", ErrCapacity)
	ErrBorrowerAtCapacity      = fmt.Errorf("%w: borrower at open position threshold", ErrCapacity)
	ErrLenderAtCapacity        = fmt.Errorf("%w: lender at open position threshold", ErrCapacity)
	ErrTransferFailed          = fmt.Errorf("%w: token transfer failed", ErrCollaborator)
	ErrMissingParty            = fmt.Errorf("%w: lender and borrower required", ErrInvalidInput)
	ErrMissingWrangler         = fmt.Errorf("%w: wrangler required", ErrInvalidInput)
	ErrKernelParties           = fmt.Errorf("%w: kernel must name exactly one of lender or borrower", ErrInvalidInput)
	ErrUnsupportedToken        = fmt.Errorf("%w: token not supported", ErrInvalidInput)
	ErrUnknownToken            = fmt.Errorf("%w: token not registered", ErrInvalidInput)
	ErrZeroAmount              = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrZeroRate                = fmt.Errorf("%w: daily interest rate must be positive", ErrInvalidInput)
	ErrOverflow                = fmt.Errorf("%w: arithmetic overflow", ErrInvalidInput)
	errNilState                = errors.New("lending engine: state not configured")
	errNilTokens               = errors.New("lending engine: token service not configured")
	errProtocolAddressUnset    = errors.New("lending engine: protocol address not configured")
)

// Kind names reported by KindOf.
const (
	KindAuthorization = "authorization"
	KindPrecondition  = "precondition"
	KindTemporal      = "temporal"
	KindCapacity      = "capacity"
	KindCollaborator  = "collaborator"
	KindInvalidInput  = "invalid_input"
	KindInternal      = "internal"
)

// KindOf classifies err into one of the failure kinds. Errors that do not wrap
// a kind, such as storage faults, are internal. A nil error has no kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrTemporal):
		return KindTemporal
	case errors.Is(err, ErrCapacity):
		return KindCapacity
	case errors.Is(err, ErrCollaborator):
		return KindCollaborator
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}
