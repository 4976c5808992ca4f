package services

import (
	"errors"
	"strings"
)

var (
	// ErrServiceItemNotFound indicates the referenced service line item is not in the store.
	ErrServiceItemNotFound = errors.New("service items: item not found")
	// ErrFieldNotEditable indicates the field cannot be written in the item's current mode.
	ErrFieldNotEditable = errors.New("service items: field not editable")
	// ErrInvalidFieldValue indicates a rejected value such as a negative weight.
	ErrInvalidFieldValue = errors.New("service items: invalid field value")
	// ErrBulkCountInvalid indicates a bulk operation was requested with an unusable count.
	ErrBulkCountInvalid = errors.New("service items: invalid bulk count")
	// ErrBarcodeUnavailable indicates no unique barcode could be drawn for the session.
	ErrBarcodeUnavailable = errors.New("service items: barcode unavailable")

	// ErrProductNotFound indicates the product is not part of the destination catalog.
	ErrProductNotFound = errors.New("product items: product not found")
	// ErrProductPriceLocked indicates the catalog entry does not allow price edits.
	ErrProductPriceLocked = errors.New("product items: price locked")
	// ErrInvalidProductValue indicates a negative quantity or price.
	ErrInvalidProductValue = errors.New("product items: invalid value")

	// ErrSelectionLocked indicates a discount or cashback is already selected and must be cleared first.
	ErrSelectionLocked = errors.New("draft: selection locked")
	// ErrCandidateNotFound indicates the requested candidate is not offered for the current counterparties.
	ErrCandidateNotFound = errors.New("draft: candidate not found")
	// ErrInvalidDraftValue indicates a rejected draft field value.
	ErrInvalidDraftValue = errors.New("draft: invalid value")

	// ErrEditorInvalidInput indicates the caller supplied malformed editor input.
	ErrEditorInvalidInput = errors.New("editor service: invalid input")
	// ErrEditorSessionNotFound indicates the session does not exist or has expired.
	ErrEditorSessionNotFound = errors.New("editor service: session not found")
	// ErrEditorUnavailable indicates reference data or persistence could not be reached.
	ErrEditorUnavailable = errors.New("editor service: unavailable")
	// ErrEditorRecordNotFound indicates the persisted goods record to edit does not exist.
	ErrEditorRecordNotFound = errors.New("editor service: goods record not found")
)

const genericSubmissionMessage = "failed to save the goods record, please retry"

// ValidationError lists every reason a draft cannot be submitted.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "draft validation failed"
	}
	return "draft validation failed: " + strings.Join(e.Violations, "; ")
}

// SubmissionError reports a failed persistence call. Message is safe to show to the operator.
type SubmissionError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return genericSubmissionMessage
	}
	return e.Message
}

// Unwrap exposes the collaborator error.
func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
