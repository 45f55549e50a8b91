package common

import "errors"

// Error taxonomy shared by the pipeline. Callers wrap the underlying cause
// with fmt.Errorf("%w: %w", ErrX, err) so both stay matchable.
var (
	// ErrStore is a connection or query failure against the relational store.
	ErrStore = errors.New("store error")
	// ErrAgent is a failed call to the AI collaborator.
	ErrAgent = errors.New("agent error")
	// ErrDelivery is a failed SMS send.
	ErrDelivery = errors.New("delivery error")
	// ErrDuplicateIngest marks a segment whose external id was already stored.
	ErrDuplicateIngest = errors.New("duplicate segment")
)
