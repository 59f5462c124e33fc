package domain

import "errors"

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidEventID = errors.New("invalid_event_id")
	ErrNegativeTokens = errors.New("negative_token_balance")
)
