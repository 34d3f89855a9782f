package rewardd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rewardledger/config"
	"rewardledger/core/events"
	"rewardledger/native/rewards"
	"rewardledger/observability"
	"rewardledger/storage"
)

const (
	enginePush = "push"
	enginePull = "pull"
)

// Ledger owns the runtime and both engines served by rewardd and keeps their
// snapshots and gauges current.
type Ledger struct {
	// mu orders commits with the snapshot writes that follow them, so an
	// older snapshot never lands on top of a newer one.
	mu sync.Mutex

	rt     *rewards.Runtime
	push   *rewards.PushEngine
	pull   *rewards.PullEngine
	store  storage.Database
	logger *slog.Logger
}

// OpenLedger builds the engines for cfg. When store holds snapshots the
// engines are restored from them, otherwise fresh engines are deployed. A nil
// store disables persistence.
func OpenLedger(cfg *config.Config, store storage.Database, emitter events.Emitter, logger *slog.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("ledger config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	custodian, err := cfg.CustodianAddress()
	if err != nil {
		return nil, err
	}
	opts := append(cfg.RuntimeOptions(), rewards.WithEmitter(emitter))
	rt := rewards.NewRuntime(opts...)

	l := &Ledger{rt: rt, store: store, logger: logger}
	if l.push, err = l.openPush(custodian); err != nil {
		return nil, err
	}
	if l.pull, err = l.openPull(custodian); err != nil {
		return nil, err
	}
	l.refreshGauges()
	return l, nil
}

func (l *Ledger) openPush(custodian common.Address) (*rewards.PushEngine, error) {
	if l.store != nil {
		engine, err := rewards.LoadPushEngine(l.rt, l.store)
		switch {
		case err == nil:
			if engine.Custodian() != custodian {
				return nil, fmt.Errorf("push snapshot custodian %s does not match configured %s", engine.Custodian().Hex(), custodian.Hex())
			}
			l.logger.Info("restored push engine", slog.String("engine", engine.Address().Hex()), slog.Int("recipients", engine.Count()))
			return engine, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}
	return rewards.NewPushEngine(l.rt, custodian)
}

func (l *Ledger) openPull(custodian common.Address) (*rewards.PullEngine, error) {
	if l.store != nil {
		engine, err := rewards.LoadPullEngine(l.rt, l.store)
		switch {
		case err == nil:
			if engine.Custodian() != custodian {
				return nil, fmt.Errorf("pull snapshot custodian %s does not match configured %s", engine.Custodian().Hex(), custodian.Hex())
			}
			l.logger.Info("restored pull engine", slog.String("engine", engine.Address().Hex()), slog.Int("recipients", engine.Count()))
			return engine, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}
	return rewards.NewPullEngine(l.rt, custodian)
}

// Runtime returns the shared runtime.
func (l *Ledger) Runtime() *rewards.Runtime { return l.rt }

// Push returns the push engine.
func (l *Ledger) Push() *rewards.PushEngine { return l.push }

// Pull returns the pull engine.
func (l *Ledger) Pull() *rewards.PullEngine { return l.pull }

// apply runs one engine call and records its outcome before the next call may
// start.
func (l *Ledger) apply(engine, op string, call func() (*rewards.Receipt, error)) (*rewards.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, err := call()
	l.observe(engine, op, receipt, err)
	return receipt, err
}

// observe records the outcome of an engine call and persists the engine it
// touched. Push snapshots are written even on failure since an aborted
// distribution still changes the phase.
func (l *Ledger) observe(engine, op string, receipt *rewards.Receipt, callErr error) {
	var cost uint64
	if receipt != nil {
		cost = receipt.CostUsed
	}
	observability.Rewards().ObserveOperation(engine, op, rewards.Code(callErr), cost)
	if callErr == nil || engine == enginePush {
		if err := l.persist(engine); err != nil {
			l.logger.Error("persist snapshot failed", slog.String("engine", engine), slog.Any("error", err))
		}
	}
	l.refreshGauges()
}

func (l *Ledger) persist(engine string) error {
	if l.store == nil {
		return nil
	}
	switch engine {
	case enginePush:
		return l.push.Persist(l.store)
	case enginePull:
		return l.pull.Persist(l.store)
	}
	return nil
}

func (l *Ledger) refreshGauges() {
	metrics := observability.Rewards()
	metrics.SetBalance(enginePush, l.push.Balance().ToBig())
	metrics.SetBalance(enginePull, l.pull.PoolBalance().ToBig())
	metrics.SetPending(l.pull.TotalPending().ToBig())
	metrics.SetRecipients(enginePush, l.push.Count())
	metrics.SetRecipients(enginePull, l.pull.Count())
}

// Check runs the bookkeeping checks of both engines.
func (l *Ledger) Check() error {
	return errors.Join(rewards.CheckPushInvariants(l.push), rewards.CheckPullInvariants(l.pull))
}

// ResetSnapshots drops any persisted engine state so the next OpenLedger
// deploys fresh engines.
func ResetSnapshots(store storage.Database, logger *slog.Logger) error {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := rewards.ClearSnapshots(store); err != nil {
		return fmt.Errorf("reset snapshots: %w", err)
	}
	logger.Warn("engine snapshots cleared")
	return nil
}
