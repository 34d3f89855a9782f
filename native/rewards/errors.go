package rewards

import "errors"

var (
	ErrUnauthorized            = errors.New("rewards: unauthorized")
	ErrInvalidArgument         = errors.New("rewards: invalid argument")
	ErrInsufficientFunds       = errors.New("rewards: insufficient funds")
	ErrTransferRejected        = errors.New("rewards: transfer rejected")
	ErrResourceExceeded        = errors.New("rewards: resource ceiling exceeded")
	ErrNoPendingReward         = errors.New("rewards: no pending reward")
	ErrInsufficientPoolBalance = errors.New("rewards: insufficient pool balance")
	ErrArithmeticOverflow      = errors.New("rewards: arithmetic overflow")
	ErrReentrantCall           = errors.New("rewards: reentrant call")
	ErrCorruptSnapshot         = errors.New("rewards: corrupt snapshot")
)

var errorCodes = []struct {
	err  error
	code string
}{
	// Order matters: a rejected transfer caused by an exhausted budget reports
	// as transfer_rejected.
	{ErrTransferRejected, "transfer_rejected"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrResourceExceeded, "resource_exceeded"},
	{ErrNoPendingReward, "no_pending_reward"},
	{ErrInsufficientPoolBalance, "insufficient_pool_balance"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrCorruptSnapshot, "corrupt_snapshot"},
}

// Code maps an engine error onto a stable identifier suitable for metrics
// labels and API responses. Nil maps to "ok"; unknown errors map to "internal".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return "internal"
}
