package rewards

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rewardledger/core/events"
)

// PushEngine pays every registered recipient in a single operation. Any
// failing transfer aborts the whole distribution, which is exactly what makes
// it vulnerable to a single hostile recipient or to a long recipient list.
type PushEngine struct {
	engine
	recipients *Registry[*RecipientRecord]
	balance    *uint256.Int
	phase      Phase

	committed atomic.Pointer[pushView]
}

// pushView is the state as of the last finished transaction. It is never
// modified once published.
type pushView struct {
	recipients *Registry[*RecipientRecord]
	balance    *uint256.Int
	phase      Phase
}

// NewPushEngine deploys a push engine owned by custodian on rt.
func NewPushEngine(rt *Runtime, custodian common.Address) (*PushEngine, error) {
	base, err := newEngine(rt, custodian)
	if err != nil {
		return nil, err
	}
	e := &PushEngine{
		engine:     base,
		recipients: NewRegistry[*RecipientRecord](),
		balance:    new(uint256.Int),
		phase:      PhaseIdle,
	}
	e.publish()
	return e, nil
}

func (e *PushEngine) publish() {
	e.committed.Store(&pushView{recipients: e.recipients.clone(), balance: e.balance, phase: e.phase})
}

func (e *PushEngine) view() *pushView { return e.committed.Load() }

// Address returns the engine's own identity.
func (e *PushEngine) Address() common.Address { return e.address }

// Custodian returns the privileged identity.
func (e *PushEngine) Custodian() common.Address { return e.custodian }

// Register adds a beneficiary. An identity can only be registered once.
func (e *PushEngine) Register(ctx context.Context, caller, id common.Address, amount *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpRegister, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := e.register(tx, id, amount); err != nil {
			return err
		}
		receipt.Amount = cloneAmount(amount)
		receipt.Recipients = 1
		return nil
	})
}

// RegisterBatch registers every pair in order. Either all pairs are admitted
// or none are.
func (e *PushEngine) RegisterBatch(ctx context.Context, caller common.Address, ids []common.Address, amounts []*uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpRegisterBatch, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := validateBatch(ids, amounts); err != nil {
			return err
		}
		total := new(uint256.Int)
		for i, id := range ids {
			if err := e.register(tx, id, amounts[i]); err != nil {
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

func (e *PushEngine) register(tx *Tx, id common.Address, amount *uint256.Int) error {
	if err := validateRegistration(id, amount); err != nil {
		return err
	}
	if err := tx.charge(e.rt.costs.RecordRead, "registry read"); err != nil {
		return err
	}
	if e.recipients.Contains(id) {
		return fmt.Errorf("%w: %s already registered", ErrInvalidArgument, id.Hex())
	}
	if err := tx.charge(e.rt.costs.RecordCreate, "registry create"); err != nil {
		return err
	}
	tx.record(e.recipients.set(id, &RecipientRecord{Identity: id, RewardAmount: cloneAmount(amount)}))
	tx.emit(events.RecipientRegistered{Engine: e.address, Identity: id, Amount: cloneAmount(amount)})
	return nil
}

// Deposit funds the engine balance directly. Anyone may call it.
func (e *PushEngine) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpDeposit, caller, func(_ context.Context, tx *Tx, receipt *Receipt) error {
		if isZero(amount) {
			return fmt.Errorf("%w: deposit must be greater than 0", ErrInvalidArgument)
		}
		if err := tx.charge(e.rt.costs.RecordWrite, "balance write"); err != nil {
			return err
		}
		next, err := checkedAdd(e.balance, amount)
		if err != nil {
			return err
		}
		e.setBalance(tx, next)
		tx.emit(events.FundsDeposited{Engine: e.address, From: caller, Amount: cloneAmount(amount)})
		receipt.Amount = cloneAmount(amount)
		return nil
	})
}

// Distribute pays every unpaid recipient in registration order using funds
// sent along with the call plus whatever the engine already holds in excess.
// The first failing transfer aborts the distribution and rolls back every
// payment made so far.
func (e *PushEngine) Distribute(ctx context.Context, caller common.Address, funds *uint256.Int) (*Receipt, error) {
	return e.rt.run(ctx, e, OpDistribute, caller, func(ctx context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if e.phase == PhaseDistributing {
			return fmt.Errorf("%w: distribution already in progress", ErrReentrantCall)
		}
		unpaid, total, err := e.unpaid(tx)
		if err != nil {
			return err
		}
		if cloneAmount(funds).Lt(total) {
			return fmt.Errorf("%w: provided %s, unpaid rewards total %s", ErrInsufficientFunds, cloneAmount(funds).Dec(), total.Dec())
		}

		e.phase = PhaseDistributing
		if err := e.pay(ctx, tx, unpaid, funds); err != nil {
			e.phase = PhaseAborted
			return aborted(err, events.DistributionAborted{Engine: e.address, Recipients: len(unpaid), Reason: err.Error()})
		}
		e.phase = PhaseCompleted
		tx.record(func() { e.phase = PhaseAborted })

		surplus, err := checkedSub(funds, total)
		if err != nil {
			return err
		}
		tx.emit(events.RewardsDistributed{Engine: e.address, Recipients: len(unpaid), Total: cloneAmount(total), Surplus: surplus})
		receipt.Amount = total
		receipt.Recipients = len(unpaid)
		return nil
	})
}

// unpaid collects the records still owed, charging one read per record, and
// sums what they are owed.
func (e *PushEngine) unpaid(tx *Tx) ([]*RecipientRecord, *uint256.Int, error) {
	var (
		out   []*RecipientRecord
		total = new(uint256.Int)
		err   error
	)
	e.recipients.each(func(_ common.Address, rec *RecipientRecord) bool {
		if err = tx.charge(e.rt.costs.RecordRead, "registry read"); err != nil {
			return false
		}
		if rec.Paid {
			return true
		}
		var sum *uint256.Int
		if sum, err = checkedAdd(total, rec.RewardAmount); err != nil {
			return false
		}
		total = sum
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return out, total, nil
}

func (e *PushEngine) pay(ctx context.Context, tx *Tx, unpaid []*RecipientRecord, funds *uint256.Int) error {
	predicted := e.rt.costs.DistributeCost(len(unpaid))
	if predicted > e.rt.limit {
		return fmt.Errorf("%w: distributing to %d recipients costs %d, ceiling is %d", ErrResourceExceeded, len(unpaid), predicted, e.rt.limit)
	}
	held, err := checkedAdd(e.balance, funds)
	if err != nil {
		return err
	}
	e.setBalance(tx, held)

	for _, rec := range unpaid {
		if err := tx.charge(e.rt.costs.RecordRead, "recipient read"); err != nil {
			return err
		}
		if e.balance.Lt(rec.RewardAmount) {
			return fmt.Errorf("%w: engine holds %s, %s is owed %s", ErrInsufficientFunds, e.balance.Dec(), rec.Identity.Hex(), rec.RewardAmount.Dec())
		}
		next, err := checkedSub(e.balance, rec.RewardAmount)
		if err != nil {
			return err
		}
		e.setBalance(tx, next)
		if err := e.rt.transfer(ctx, tx, e.address, rec.Identity, rec.RewardAmount); err != nil {
			return err
		}
	}
	for _, rec := range unpaid {
		if err := tx.charge(e.rt.costs.RecordWrite, "paid flag write"); err != nil {
			return err
		}
		paid := rec.Clone()
		paid.Paid = true
		tx.record(e.recipients.set(rec.Identity, paid))
	}
	return nil
}

// EmergencyWithdraw sends the entire engine balance to the custodian.
func (e *PushEngine) EmergencyWithdraw(ctx context.Context, caller common.Address) (*Receipt, error) {
	return e.rt.run(ctx, e, OpEmergencyWithdraw, caller, func(ctx context.Context, tx *Tx, receipt *Receipt) error {
		if err := e.authorize(caller); err != nil {
			return err
		}
		if err := tx.charge(e.rt.costs.RecordRead, "balance read"); err != nil {
			return err
		}
		amount := cloneAmount(e.balance)
		if amount.IsZero() {
			return fmt.Errorf("%w: engine holds no funds", ErrInsufficientPoolBalance)
		}
		if err := tx.charge(e.rt.costs.RecordWrite, "balance write"); err != nil {
			return err
		}
		e.setBalance(tx, new(uint256.Int))
		tx.emit(events.FundsRecovered{Engine: e.address, Custodian: e.custodian, Amount: cloneAmount(amount)})
		if err := e.rt.transfer(ctx, tx, e.address, e.custodian, amount); err != nil {
			return err
		}
		receipt.Amount = amount
		return nil
	})
}

func (e *PushEngine) setBalance(tx *Tx, next *uint256.Int) {
	prev := e.balance
	e.balance = next
	tx.record(func() { e.balance = prev })
}

// Count returns the number of registered recipients.
func (e *PushEngine) Count() int {
	return e.view().recipients.Len()
}

// Beneficiaries lists recipients in registration order.
func (e *PushEngine) Beneficiaries() []common.Address {
	return e.view().recipients.Identities()
}

// Recipient returns a copy of the record for id.
func (e *PushEngine) Recipient(id common.Address) (*RecipientRecord, bool) {
	return e.view().recipients.Lookup(id)
}

// Records returns copies of every record in registration order.
func (e *PushEngine) Records() []*RecipientRecord {
	return e.view().recipients.Records()
}

// RequiredFunds reports what a distribution would have to be sent right now.
func (e *PushEngine) RequiredFunds() (*uint256.Int, error) {
	var (
		total = new(uint256.Int)
		err   error
	)
	e.view().recipients.each(func(_ common.Address, rec *RecipientRecord) bool {
		if rec.Paid {
			return true
		}
		total, err = checkedAdd(total, rec.RewardAmount)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

// EstimateDistributeCost prices a distribution over the current unpaid set
// assuming no recipient runs code.
func (e *PushEngine) EstimateDistributeCost() uint64 {
	var unpaid int
	e.view().recipients.each(func(_ common.Address, rec *RecipientRecord) bool {
		if !rec.Paid {
			unpaid++
		}
		return true
	})
	return e.rt.costs.DistributeCost(unpaid)
}

// Balance returns the funds the engine currently holds.
func (e *PushEngine) Balance() *uint256.Int {
	return cloneAmount(e.view().balance)
}

// Phase reports the distribution state.
func (e *PushEngine) Phase() Phase {
	return e.view().phase
}
