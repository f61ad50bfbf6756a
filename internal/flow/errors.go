package flow

import "errors"

// Kind classifies a failed payment attempt.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindWalletUnavailable   Kind = "wallet_unavailable"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindApprovalReverted    Kind = "approval_reverted"
	KindTransferReverted    Kind = "transfer_reverted"
	KindConfirmationTimeout Kind = "confirmation_timeout"
	KindFulfillmentFailed   Kind = "fulfillment_failed"
	KindUnknownTransaction  Kind = "unknown_transaction_error"

	// KindSubmissionInFlight is not an attempt failure. It labels the
	// rejection of a submission that raced an in-progress one.
	KindSubmissionInFlight Kind = "submission_in_flight"
)

// Error is a classified attempt failure. Message is safe to surface to
// the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failf(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the classification from an error, falling back to the
// catch-all transaction kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknownTransaction
}

// ErrSubmissionInFlight is returned when a second submission is started
// while one is already running. Submissions are strictly single-flight.
var ErrSubmissionInFlight = errors.New("a payment submission is already in progress")
