package rewards

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvariantViolation is wrapped by every failure reported by the checks
// below.
var ErrInvariantViolation = errors.New("rewards: invariant violation")

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}

// CheckPullInvariants verifies the pull engine's bookkeeping as of the last
// finished operation:
//
//	pool        = deposited - distributed - recovered
//	distributed = sum of every entry's withdrawn total
//	pending     = sum of every entry's pending balance
//
// All violations found are returned joined together.
func CheckPullInvariants(e *PullEngine) error {
	return errors.Join(pullViolations(e.view())...)
}

func pullViolations(v *pullView) []error {
	var errs []error
	t := v.totals
	withdrawn, pending := new(uint256.Int), new(uint256.Int)
	v.ledger.each(func(id common.Address, entry *LedgerEntry) bool {
		if entry.Identity != id {
			errs = append(errs, violation("entry keyed %s names %s", id.Hex(), entry.Identity.Hex()))
		}
		var err error
		if withdrawn, err = checkedAdd(withdrawn, entry.TotalWithdrawn); err != nil {
			errs = append(errs, err)
			return false
		}
		if pending, err = checkedAdd(pending, entry.PendingBalance); err != nil {
			errs = append(errs, err)
			return false
		}
		return true
	})
	if len(errs) > 0 {
		return errs
	}

	outflow, overflow := new(uint256.Int).AddOverflow(t.TotalDistributed, t.TotalRecovered)
	expected, underflow := new(uint256.Int).SubOverflow(t.TotalDeposited, outflow)
	switch {
	case overflow || underflow:
		errs = append(errs, violation("deposited %s is less than distributed %s plus recovered %s",
			t.TotalDeposited.Dec(), t.TotalDistributed.Dec(), t.TotalRecovered.Dec()))
	case !expected.Eq(t.PoolBalance):
		errs = append(errs, violation("pool %s, expected %s", t.PoolBalance.Dec(), expected.Dec()))
	}
	if !withdrawn.Eq(t.TotalDistributed) {
		errs = append(errs, violation("distributed %s, entries withdrew %s", t.TotalDistributed.Dec(), withdrawn.Dec()))
	}
	if !pending.Eq(t.TotalPending) {
		errs = append(errs, violation("pending total %s, entries owe %s", t.TotalPending.Dec(), pending.Dec()))
	}
	return errs
}

// CheckPushInvariants verifies that the push engine is at rest and that every
// record is well formed.
func CheckPushInvariants(e *PushEngine) error {
	var errs []error
	v := e.view()
	if v.phase == PhaseDistributing {
		errs = append(errs, violation("distribution left in progress"))
	}
	v.recipients.each(func(id common.Address, rec *RecipientRecord) bool {
		if rec.Identity != id {
			errs = append(errs, violation("record keyed %s names %s", id.Hex(), rec.Identity.Hex()))
		}
		if isZero(rec.RewardAmount) {
			errs = append(errs, violation("%s registered with a zero reward", id.Hex()))
		}
		return true
	})
	if v.recipients.Len() != len(v.recipients.index) {
		errs = append(errs, violation("registry order holds %d identities, index %d", v.recipients.Len(), len(v.recipients.index)))
	}
	return errors.Join(errs...)
}
