package rewards

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Receiver is code attached to an identity that runs whenever the identity is
// paid, the way a contract's receive hook does. Returning an error rejects the
// payment.
type Receiver interface {
	Receive(ctx context.Context, call *Call) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(context.Context, *Call) error

// Receive implements Receiver.
func (f ReceiverFunc) Receive(ctx context.Context, call *Call) error { return f(ctx, call) }

// Call describes a payment being delivered to a Receiver.
type Call struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int

	tx *Tx
}

// Consume charges units against the budget forwarded to the receiver.
func (c *Call) Consume(units uint64) error {
	return c.tx.meter.Consume(units, "receive hook")
}

// Remaining reports how much of the forwarded budget is left.
func (c *Call) Remaining() uint64 {
	return c.tx.meter.Remaining()
}

// OnRevert registers fn to undo a receiver-side effect if the payment, or the
// operation containing it, is rolled back.
func (c *Call) OnRevert(fn func()) {
	c.tx.record(fn)
}

// Accounts holds the balances of identities outside the engines together with
// the receive hooks installed on them.
type Accounts struct {
	mu        sync.RWMutex
	balances  map[common.Address]*uint256.Int
	receivers map[common.Address]Receiver
}

// NewAccounts returns an empty account set.
func NewAccounts() *Accounts {
	return &Accounts{
		balances:  make(map[common.Address]*uint256.Int),
		receivers: make(map[common.Address]Receiver),
	}
}

// Install attaches a receive hook to addr. Passing nil removes it.
func (a *Accounts) Install(addr common.Address, recv Receiver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if recv == nil {
		delete(a.receivers, addr)
		return
	}
	a.receivers[addr] = recv
}

// Balance returns the funds held by addr.
func (a *Accounts) Balance(addr common.Address) *uint256.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneAmount(a.balances[addr])
}

// Holders returns every identity that has ever been credited.
func (a *Accounts) Holders() []common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]common.Address, 0, len(a.balances))
	for addr := range a.balances {
		out = append(out, addr)
	}
	return out
}

func (a *Accounts) receiver(addr common.Address) Receiver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.receivers[addr]
}

func (a *Accounts) credit(addr common.Address, amount *uint256.Int) (undo func(), err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, existed := a.balances[addr]
	next, err := checkedAdd(prev, amount)
	if err != nil {
		return nil, err
	}
	a.balances[addr] = next
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if existed {
			a.balances[addr] = prev
		} else {
			delete(a.balances, addr)
		}
	}, nil
}
