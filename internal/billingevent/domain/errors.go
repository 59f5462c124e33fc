package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidConfig    = errors.New("invalid_adapter_config")
	ErrProviderNotFound = errors.New("provider_not_found")
)
