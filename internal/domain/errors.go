package domain

import "errors"

var (
	// Classification and validation errors
	ErrUnknownChargeName  = errors.New("unknown charge name")
	ErrUnknownCurrency    = errors.New("unknown currency code")
	ErrMissingPostedDate  = errors.New("missing invoice posted date")
	ErrMissingDueDate     = errors.New("missing invoice due date")
	ErrMissingServiceDate = errors.New("missing service period date")

	// Reconciliation invariant errors
	ErrTotalMismatch            = errors.New("total of line items not the total of invoice")
	ErrUnmatchedUserCredit      = errors.New("unmatched user proration credits")
	ErrUnmatchedStorageCredit   = errors.New("unmatched storage proration credits")
	ErrCreditAdjustmentMismatch = errors.New("credit adjusted, but not the same as invoice amount")
	ErrCreditAdjustedAndPaid    = errors.New("credit adjusted invoice also has successful transactions")
	ErrUnexpectedPaymentCase    = errors.New("unexpected payment case")
	ErrInvalidPaymentRecord     = errors.New("invalid payment record")

	// Pending refund errors
	ErrPendingRefundsLeft = errors.New("pending extra-invoice refunds left unmatched")
	ErrUnsupportedSplit   = errors.New("cannot split invoice with multiple line items")

	// Final validation errors
	ErrZeroQuantity             = errors.New("line item has zero quantity")
	ErrNegativeUnprorated       = errors.New("non-prorated line item has negative amount")
	ErrInvalidServicePeriod     = errors.New("service period start must be before end")
	ErrUnknownBillingPeriod     = errors.New("unknown plan billing period")
	ErrUnsupportedBillingPeriod = errors.New("unsupported plan billing period")
	ErrMissingCustomer          = errors.New("missing customer for account")
)
