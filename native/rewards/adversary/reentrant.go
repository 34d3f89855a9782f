package adversary

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rewardledger/native/rewards"
)

// Withdrawer is the slice of the pull engine a Reentrant attacks.
type Withdrawer interface {
	Withdraw(ctx context.Context, caller common.Address) (*rewards.Receipt, error)
}

// Reentrant accepts payments but, while being paid, calls back into the
// engine that is paying it. It records what each nested call returned.
type Reentrant struct {
	mu       sync.Mutex
	reenter  func(context.Context) error
	limit    int
	attempts int
	errs     []error
}

// NewReentrant returns a receiver that runs reenter from inside its receive
// hook, at most limit times.
func NewReentrant(limit int, reenter func(context.Context) error) *Reentrant {
	return &Reentrant{reenter: reenter, limit: limit}
}

// NewReentrantWithdrawer returns a receiver that tries to withdraw again as
// self while its first withdrawal is still being paid out.
func NewReentrantWithdrawer(target Withdrawer, self common.Address, limit int) *Reentrant {
	return NewReentrant(limit, func(ctx context.Context) error {
		_, err := target.Withdraw(ctx, self)
		return err
	})
}

// Attempts returns how many nested calls were made.
func (r *Reentrant) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Errors returns the error of every nested call, nil for those that
// succeeded.
func (r *Reentrant) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// Receive implements rewards.Receiver.
func (r *Reentrant) Receive(ctx context.Context, _ *rewards.Call) error {
	r.mu.Lock()
	if r.attempts >= r.limit {
		r.mu.Unlock()
		return nil
	}
	r.attempts++
	r.mu.Unlock()

	err := r.reenter(ctx)

	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return nil
}

// Stolen reports how much more than owed an attacker collected, given what
// it was owed and what it ended up holding.
func Stolen(owed, held *uint256.Int) *uint256.Int {
	if held.Cmp(owed) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(held, owed)
}
