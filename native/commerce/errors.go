package commerce

import "errors"

// Transition failures are sentinel errors so callers can separate the
// recoverable classes with errors.Is: wrong-status preconditions, policy
// violations, allocation races and the explicitly unimplemented chargeback.
var (
	// ErrNotFound reports a record missing from state.
	ErrNotFound = errors.New("commerce: record not found")
	// ErrAlreadyExists reports an attempt to create a record whose derived
	// address is already initialised.
	ErrAlreadyExists = errors.New("commerce: record already exists")
	// ErrUnauthorized reports a caller key that does not own the record it
	// is trying to act for.
	ErrUnauthorized = errors.New("commerce: unauthorized caller")
	// ErrInvalidStatus reports a transition attempted from the wrong
	// payment status.
	ErrInvalidStatus = errors.New("commerce: invalid payment status for operation")
	// ErrCurrencyNotAccepted reports a payment currency outside the
	// config's closed accepted list.
	ErrCurrencyNotAccepted = errors.New("commerce: currency not accepted by config")
	// ErrInsufficientBalance reports a custodial balance too small for the
	// requested movement.
	ErrInsufficientBalance = errors.New("commerce: insufficient balance")
	// ErrInsufficientSettlementAmount reports a clearing below the
	// settlement policy minimum.
	ErrInsufficientSettlementAmount = errors.New("commerce: settlement amount below policy minimum")
	// ErrSettlementTooEarly reports a clearing before the settlement
	// frequency window elapsed.
	ErrSettlementTooEarly = errors.New("commerce: settlement attempted too early")
	// ErrRefundExceedsPolicyLimit reports a refund of a payment larger than
	// the refund policy ceiling.
	ErrRefundExceedsPolicyLimit = errors.New("commerce: refund amount exceeds policy limit")
	// ErrRefundWindowExpired reports a refund attempted after the policy
	// window closed.
	ErrRefundWindowExpired = errors.New("commerce: refund window expired")
	// ErrCloseWindowNotReached reports a close attempted before the
	// config's close window elapsed.
	ErrCloseWindowNotReached = errors.New("commerce: payment close window not reached")
	// ErrOrderIDMismatch reports a caller order-id hint that lost the race
	// against the config counter. Retryable after re-reading the config.
	ErrOrderIDMismatch = errors.New("commerce: order id does not match config counter")
	// ErrFeeExceedsAmount reports a fixed operator fee larger than the
	// payment amount.
	ErrFeeExceedsAmount = errors.New("commerce: operator fee exceeds payment amount")
	// ErrAcceptedCurrenciesEmpty reports a config created with no accepted
	// currencies; the accepted list is closed and must not be empty.
	ErrAcceptedCurrenciesEmpty = errors.New("commerce: accepted currencies empty")
	// ErrChargebackNotImplemented is the explicit signal for the reserved
	// chargeback transition. It is distinct from an unknown instruction so
	// callers can tell "not yet supported" from "illegal".
	ErrChargebackNotImplemented = errors.New("commerce: chargeback transition not implemented")
)
