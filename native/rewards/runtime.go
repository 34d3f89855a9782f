package rewards

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rewardledger/core/events"
)

// Runtime is the execution environment engines are deployed into. It owns the
// single lock every operation runs under, so operations on all engines sharing
// a runtime form one global serial order. Queries never take that lock; they
// read the view each engine publishes when a transaction ends. It also owns the cost schedule and
// the external accounts that transfers credit.
type Runtime struct {
	mu       sync.Mutex
	hooks    atomic.Int32
	costs    CostModel
	limit    uint64
	accounts *Accounts

	metaMu  sync.Mutex
	emitter events.Emitter
	nonces  map[common.Address]uint64
}

// Option customises a runtime.
type Option func(*Runtime)

// WithCostModel overrides the cost schedule.
func WithCostModel(model CostModel) Option {
	return func(rt *Runtime) { rt.costs = model }
}

// WithCostLimit overrides the per-operation resource ceiling.
func WithCostLimit(limit uint64) Option {
	return func(rt *Runtime) { rt.limit = limit }
}

// WithAccounts supplies the external account set.
func WithAccounts(accounts *Accounts) Option {
	return func(rt *Runtime) { rt.accounts = accounts }
}

// WithEmitter configures where committed events are published. Emit is called
// with the runtime lock held, so it must not block or call back into an
// engine mutation.
func WithEmitter(emitter events.Emitter) Option {
	return func(rt *Runtime) { rt.emitter = emitter }
}

// NewRuntime constructs a runtime with the default cost schedule and ceiling.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		costs:   DefaultCostModel(),
		limit:   DefaultCostLimit,
		emitter: events.NoopEmitter{},
		nonces:  make(map[common.Address]uint64),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.accounts == nil {
		rt.accounts = NewAccounts()
	}
	if rt.emitter == nil {
		rt.emitter = events.NoopEmitter{}
	}
	return rt
}

// SetEmitter replaces the event emitter. Passing nil discards events.
func (rt *Runtime) SetEmitter(emitter events.Emitter) {
	rt.metaMu.Lock()
	defer rt.metaMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	rt.emitter = emitter
}

// Accounts exposes the external account set.
func (rt *Runtime) Accounts() *Accounts { return rt.accounts }

// Costs returns the cost schedule.
func (rt *Runtime) Costs() CostModel { return rt.costs }

// CostLimit returns the per-operation ceiling.
func (rt *Runtime) CostLimit() uint64 { return rt.limit }

func (rt *Runtime) currentEmitter() events.Emitter {
	rt.metaMu.Lock()
	defer rt.metaMu.Unlock()
	return rt.emitter
}

// deploy derives a fresh engine address for owner the way contract creation
// addresses are derived from the deployer and its nonce.
func (rt *Runtime) deploy(owner common.Address) common.Address {
	rt.metaMu.Lock()
	defer rt.metaMu.Unlock()
	nonce := rt.nonces[owner]
	rt.nonces[owner] = nonce + 1
	return ethcrypto.CreateAddress(owner, nonce)
}

type txKey struct{ rt *Runtime }

func (rt *Runtime) txFrom(ctx context.Context) *Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{rt}).(*Tx)
	return tx
}

// execute runs fn atomically and returns the units it consumed. A call made
// from inside a receive hook joins the transaction already in flight instead
// of taking the lock again; if it fails only its own effects are unwound.
func (rt *Runtime) execute(ctx context.Context, fn func(context.Context, *Tx) error) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx := rt.txFrom(ctx); tx != nil {
		meter := tx.meter
		before := meter.Used()
		cp := tx.checkpoint()
		err := fn(ctx, tx)
		if err != nil {
			tx.revertTo(cp)
			err = tx.fail(err)
		}
		return meter.Used() - before, err
	}
	return rt.executeLocked(ctx, fn)
}

// executeLocked runs fn as an outermost transaction. Views of the engines it
// touched and its events are published before the lock is released, so
// subscribers observe commits in lock order.
func (rt *Runtime) executeLocked(ctx context.Context, fn func(context.Context, *Tx) error) (uint64, error) {
	if !rt.mu.TryLock() {
		// Whoever holds the lock is suspended in a receive hook. The hook
		// lost the transaction context; waiting would never return.
		if rt.hooks.Load() > 0 {
			return 0, fmt.Errorf("%w: runtime is inside a receive hook, call with the hook's context", ErrReentrantCall)
		}
		rt.mu.Lock()
	}
	defer rt.mu.Unlock()

	tx := newTx(rt.limit)
	defer func() {
		if r := recover(); r != nil {
			tx.revertTo(checkpoint{})
			tx.publishViews()
			panic(r)
		}
	}()
	ctx = context.WithValue(ctx, txKey{rt}, tx)
	err := tx.charge(rt.costs.TxBase, "transaction")
	if err == nil {
		err = fn(ctx, tx)
	}
	if err != nil {
		tx.revertTo(checkpoint{})
		err = tx.fail(err)
	}
	tx.publishViews()
	emitter := rt.currentEmitter()
	for _, evt := range tx.events {
		emitter.Emit(evt)
	}
	return tx.meter.Used(), err
}

// transfer moves amount out of an engine to an identity, running the
// identity's receive hook with a forwarded budget first.
func (rt *Runtime) transfer(ctx context.Context, tx *Tx, from, to common.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return nil
	}
	if err := tx.charge(rt.costs.Transfer, "transfer"); err != nil {
		return err
	}
	cp := tx.checkpoint()
	if recv := rt.accounts.receiver(to); recv != nil {
		outer := tx.meter
		forwarded := outer.forward()
		tx.meter = forwarded
		err := rt.receive(ctx, recv, &Call{From: from, To: to, Amount: cloneAmount(amount), tx: tx})
		tx.meter = outer
		outer.absorb(forwarded)
		if err != nil {
			tx.revertTo(cp)
			return fmt.Errorf("%w: %s: %w", ErrTransferRejected, to.Hex(), err)
		}
	}
	undo, err := rt.accounts.credit(to, amount)
	if err != nil {
		tx.revertTo(cp)
		return err
	}
	tx.record(undo)
	return nil
}

func (rt *Runtime) receive(ctx context.Context, recv Receiver, call *Call) error {
	rt.hooks.Add(1)
	defer rt.hooks.Add(-1)
	return recv.Receive(ctx, call)
}

// run wraps execute for engine operations and fills in the receipt. The
// engine's view is republished when the outermost transaction ends.
func (rt *Runtime) run(ctx context.Context, owner publisher, op string, caller common.Address, fn func(context.Context, *Tx, *Receipt) error) (*Receipt, error) {
	receipt := &Receipt{Op: op, Caller: caller, Amount: new(uint256.Int)}
	used, err := rt.execute(ctx, func(ctx context.Context, tx *Tx) error {
		tx.touch(owner)
		return fn(ctx, tx, receipt)
	})
	if err != nil {
		return nil, err
	}
	receipt.CostUsed = used
	return receipt, nil
}

// engine carries what both engine kinds share.
type engine struct {
	rt        *Runtime
	address   common.Address
	custodian common.Address
}

func newEngine(rt *Runtime, custodian common.Address) (engine, error) {
	if rt == nil {
		return engine{}, fmt.Errorf("%w: runtime required", ErrInvalidArgument)
	}
	if custodian == (common.Address{}) {
		return engine{}, fmt.Errorf("%w: custodian must not be the zero address", ErrInvalidArgument)
	}
	return engine{rt: rt, address: rt.deploy(custodian), custodian: custodian}, nil
}

func (e engine) authorize(caller common.Address) error {
	if caller != e.custodian {
		return fmt.Errorf("%w: %s is not the custodian", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func validateRegistration(id common.Address, amount *uint256.Int) error {
	if id == (common.Address{}) {
		return fmt.Errorf("%w: invalid address", ErrInvalidArgument)
	}
	if isZero(amount) {
		return fmt.Errorf("%w: reward must be greater than 0", ErrInvalidArgument)
	}
	return nil
}

func validateBatch(ids []common.Address, amounts []*uint256.Int) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("%w: arrays length mismatch (%d identities, %d amounts)", ErrInvalidArgument, len(ids), len(amounts))
	}
	return nil
}
