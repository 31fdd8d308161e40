package auction

import "errors"

// Auction errors. Callers match them with errors.Is; returned errors wrap
// them with the offending values.
var (
	ErrNotFound      = errors.New("auction not found")
	ErrInvalidState  = errors.New("auction is not active")
	ErrExpired       = errors.New("auction has expired")
	ErrBidTooLow     = errors.New("bid too low")
	ErrConflict      = errors.New("auction already exists for token")
	ErrInvalidInput  = errors.New("invalid auction input")
	ErrBidContention = errors.New("bid lost too many concurrent races")
)
