package chain

import (
	"errors"
	"fmt"
)

// ErrUnknownChain is returned for chain ids absent from configuration.
var ErrUnknownChain = errors.New("chain not configured")

// ConfigurationError reports a missing or invalid chain setting.
type ConfigurationError struct {
	ChainID int64
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("chain %d: invalid %s: %s", e.ChainID, e.Field, e.Reason)
}

// ConnectivityError reports an unreachable or timed-out RPC endpoint.
type ConnectivityError struct {
	ChainID int64
	Op      string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("chain %d: %s: %v", e.ChainID, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
