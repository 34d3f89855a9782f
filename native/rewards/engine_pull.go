package rewards

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rewardledger/core/events"
)

// PullEngine keeps a pending balance per beneficiary and lets each one
// withdraw independently. A failure only ever affects the caller's own
// withdrawal.
type PullEngine struct {
	engine
	ledger *Registry[*LedgerEntry]
	totals Totals

	committed atomic.Pointer[pullView]
}

type pullView struct {
	ledger *Registry[*LedgerEntry]
	totals Totals
}

// NewPullEngine deploys a pull engine owned by custodian on rt.
func NewPullEngine(rt *Runtime, custodian common.Address) (*PullEngine, error) {
	base, err := newEngine(rt, custodian)
	if err != nil {
		return nil, err
	}
	e := &PullEngine{
		engine: base,
		ledger: NewRegistry[*LedgerEntry](),
		totals: newTotals(),
	}
	e.publish()
	return e, nil
}

// publish installs the current ledger as the view queries read. Totals hold
// amounts that are replaced, never mutated, so a shallow copy is enough.
func (e *PullEngine) publish() {
	e.committed.Store(&pullView{ledger: e.ledger.clone(), totals: e.totals})
}

func (e *PullEngine) view() *pullView { return e.committed.Load() }

// Address returns the engine's own identity.
func (e *PullEngine) Address() common.Address { return e.address }

// Custodian returns the privileged identity.
func (e *PullEngine) Custodian() common.Address { return e.custodian }

// Register sets id's pending balance to amount, creating the entry if needed.
func (e *PullEngine) Register(ctx context.Context, caller, id common.Address, amount *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpRegister, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := e.setReward(tx, id, amount, false); err != nil {
			return err
		}
		receipt.Amount = cloneAmount(amount)
		receipt.Recipients = 1
		return nil
	})
}

// IncreaseReward adds amount to id's pending balance.
func (e *PullEngine) IncreaseReward(ctx context.Context, caller, id common.Address, amount *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpIncreaseReward, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := e.setReward(tx, id, amount, true); err != nil {
			return err
		}
		receipt.Amount = cloneAmount(amount)
		receipt.Recipients = 1
		return nil
	})
}

// RegisterBatch sets the pending balance of every pair in order. The cost
// grows with the batch, not with the number of entries already on file.
func (e *PullEngine) RegisterBatch(ctx context.Context, caller common.Address, ids []common.Address, amounts []*uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpRegisterBatch, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := validateBatch(ids, amounts); err != nil {
			return err
		}
		total := new(uint256.Int)
		for i, id := range ids {
			if err := e.setReward(tx, id, amounts[i], false); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			sum, err := checkedAdd(total, amounts[i])
			if err != nil {
				return err
			}
			total = sum
		}
		receipt.Amount = total
		receipt.Recipients = len(ids)
		return nil
	})
}

func (e *PullEngine) setReward(tx *Tx, id common.Address, amount *uint256.Int, increase bool) error {
	if err := validateRegistration(id, amount); err != nil {
		return err
	}
	if err := tx.charge(e.rt.costs.RecordRead, "ledger read"); err != nil {
		return err
	}
	current, exists := e.ledger.get(id)
	if exists {
		if err := tx.charge(e.rt.costs.RecordWrite, "ledger write"); err != nil {
			return err
		}
	} else {
		if err := tx.charge(e.rt.costs.RecordCreate, "ledger create"); err != nil {
			return err
		}
		current = &LedgerEntry{Identity: id, PendingBalance: new(uint256.Int), TotalWithdrawn: new(uint256.Int)}
	}

	previous := cloneAmount(current.PendingBalance)
	pending := cloneAmount(amount)
	if increase {
		sum, err := checkedAdd(previous, amount)
		if err != nil {
			return err
		}
		pending = sum
	}
	err := e.updateTotals(tx, func(t *Totals) error {
		outstanding, err := checkedSub(t.TotalPending, previous)
		if err != nil {
			return err
		}
		t.TotalPending, err = checkedAdd(outstanding, pending)
		return err
	})
	if err != nil {
		return err
	}

	next := current.Clone()
	next.PendingBalance = pending
	tx.record(e.ledger.set(id, next))
	tx.emit(events.RewardSet{Engine: e.address, Identity: id, Previous: previous, Pending: cloneAmount(pending)})
	return nil
}

// Deposit adds amount to the pool. Funding is not privileged.
func (e *PullEngine) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpDeposit, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if isZero(amount) {
			return fmt.Errorf("%w: deposit must be greater than 0", ErrInvalidArgument)
		}
		if err := tx.charge(satMul(2, e.rt.costs.RecordWrite), "pool write"); err != nil {
			return err
		}
		err := e.updateTotals(tx, func(t *Totals) error {
			var err error
			if t.PoolBalance, err = checkedAdd(t.PoolBalance, amount); err != nil {
				return err
			}
			t.TotalDeposited, err = checkedAdd(t.TotalDeposited, amount)
			return err
		})
		if err != nil {
			return err
		}
		tx.emit(events.FundsDeposited{Engine: e.address, From: caller, Amount: cloneAmount(amount)})
		receipt.Amount = cloneAmount(amount)
		return nil
	})
}

// Withdraw pays caller its whole pending balance. The ledger is settled before
// the transfer runs, so a receiver re-entering Withdraw finds nothing owed.
func (e *PullEngine) Withdraw(ctx context.Context, caller common.Address) (*Receipt, error) {
	return e.rt.run(ctx, e, OpWithdraw, caller, func(ctx context.Context, tx *Tx, receipt *Receipt) error {
		if err := tx.charge(e.rt.costs.RecordRead, "ledger read"); err != nil {
			return err
		}
		entry, ok := e.ledger.get(caller)
		if !ok || isZero(entry.PendingBalance) {
			return fmt.Errorf("%w: %s", ErrNoPendingReward, caller.Hex())
		}
		amount := cloneAmount(entry.PendingBalance)
		if e.totals.PoolBalance.Lt(amount) {
			return fmt.Errorf("%w: pool holds %s, %s is owed %s", ErrInsufficientPoolBalance, e.totals.PoolBalance.Dec(), caller.Hex(), amount.Dec())
		}

		if err := tx.charge(e.rt.costs.RecordWrite, "ledger write"); err != nil {
			return err
		}
		withdrawn, err := checkedAdd(entry.TotalWithdrawn, amount)
		if err != nil {
			return err
		}
		settled := entry.Clone()
		settled.PendingBalance = new(uint256.Int)
		settled.TotalWithdrawn = withdrawn
		tx.record(e.ledger.set(caller, settled))

		if err := tx.charge(satMul(2, e.rt.costs.RecordWrite), "pool write"); err != nil {
			return err
		}
		err = e.updateTotals(tx, func(t *Totals) error {
			var err error
			if t.PoolBalance, err = checkedSub(t.PoolBalance, amount); err != nil {
				return err
			}
			if t.TotalPending, err = checkedSub(t.TotalPending, amount); err != nil {
				return err
			}
			t.TotalDistributed, err = checkedAdd(t.TotalDistributed, amount)
			return err
		})
		if err != nil {
			return err
		}
		tx.emit(events.RewardWithdrawn{Engine: e.address, Identity: caller, Amount: cloneAmount(amount)})

		if err := e.rt.transfer(ctx, tx, e.address, caller, amount); err != nil {
			return err
		}
		receipt.Amount = amount
		receipt.Recipients = 1
		return nil
	})
}

// EmergencyWithdraw returns the pool's excess over what is owed to the
// custodian. Owed funds are never touched.
func (e *PullEngine) EmergencyWithdraw(ctx context.Context, caller common.Address) (*Receipt, error) {
	return e.rt.run(ctx, e, OpEmergencyWithdraw, caller, func(ctx context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := tx.charge(satMul(2, e.rt.costs.RecordRead), "pool read"); err != nil {
			return err
		}
		if !e.totals.PoolBalance.Gt(e.totals.TotalPending) {
			return fmt.Errorf("%w: pool holds %s against %s pending, no excess", ErrInsufficientPoolBalance, e.totals.PoolBalance.Dec(), e.totals.TotalPending.Dec())
		}
		excess, err := checkedSub(e.totals.PoolBalance, e.totals.TotalPending)
		if err != nil {
			return err
		}
		if err := tx.charge(e.rt.costs.RecordWrite, "pool write"); err != nil {
			return err
		}
		err = e.updateTotals(tx, func(t *Totals) error {
			var err error
			if t.PoolBalance, err = checkedSub(t.PoolBalance, excess); err != nil {
				return err
			}
			t.TotalRecovered, err = checkedAdd(t.TotalRecovered, excess)
			return err
		})
		if err != nil {
			return err
		}
		tx.emit(events.FundsRecovered{Engine: e.address, Custodian: e.custodian, Amount: cloneAmount(excess)})
		if err := e.rt.transfer(ctx, tx, e.address, e.custodian, excess); err != nil {
			return err
		}
		receipt.Amount = excess
		return nil
	})
}

// updateTotals applies fn to a copy of the totals and installs the copy only
// if fn succeeds.
func (e *PullEngine) updateTotals(tx *Tx, fn func(*Totals) error) error {
	next := e.totals.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	prev := e.totals
	e.totals = next
	tx.record(func() { e.totals = prev })
	return nil
}

// Balance returns id's pending balance as of the last finished operation.
// It is safe to call from a receive hook.
func (e *PullEngine) Balance(id common.Address) *uint256.Int {
	entry, _ := e.view().ledger.get(id)
	if entry == nil {
		return new(uint256.Int)
	}
	return cloneAmount(entry.PendingBalance)
}

// TotalWithdrawn returns what id has withdrawn over its lifetime.
func (e *PullEngine) TotalWithdrawn(id common.Address) *uint256.Int {
	entry, _ := e.view().ledger.get(id)
	if entry == nil {
		return new(uint256.Int)
	}
	return cloneAmount(entry.TotalWithdrawn)
}

// TotalPending returns the sum of all pending balances.
func (e *PullEngine) TotalPending() *uint256.Int {
	return cloneAmount(e.view().totals.TotalPending)
}

// PoolBalance returns the funds the pool currently holds.
func (e *PullEngine) PoolBalance() *uint256.Int {
	return cloneAmount(e.view().totals.PoolBalance)
}

// Totals returns a copy of the pool counters.
func (e *PullEngine) Totals() Totals {
	return e.view().totals.Clone()
}

// Count returns the number of ledger entries.
func (e *PullEngine) Count() int {
	return e.view().ledger.Len()
}

// Beneficiaries lists identities in the order they were first registered.
func (e *PullEngine) Beneficiaries() []common.Address {
	return e.view().ledger.Identities()
}

// Entry returns a copy of id's ledger entry.
func (e *PullEngine) Entry(id common.Address) (*LedgerEntry, bool) {
	return e.view().ledger.Lookup(id)
}

// Entries returns copies of every ledger entry in registration order.
func (e *PullEngine) Entries() []*LedgerEntry {
	return e.view().ledger.Records()
}
