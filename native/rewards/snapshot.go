package rewards

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"
)

// SnapshotVersion is the envelope version written by this package.
const SnapshotVersion uint16 = 1

// SnapshotKind tags which engine a snapshot belongs to.
type SnapshotKind uint8

const (
	KindPush SnapshotKind = 1
	KindPull SnapshotKind = 2
)

// Keys under which Persist stores each engine's snapshot.
var (
	PushSnapshotKey = []byte("rewards/snapshot/push")
	PullSnapshotKey = []byte("rewards/snapshot/pull")
)

// SnapshotStore is the subset of a key-value database snapshots need.
type SnapshotStore interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
}

// SnapshotDeleter removes stored snapshots.
type SnapshotDeleter interface {
	Delete(key []byte) error
}

// ClearSnapshots deletes both engine snapshots. Missing snapshots are not an
// error.
func ClearSnapshots(store SnapshotDeleter) error {
	return errors.Join(store.Delete(PushSnapshotKey), store.Delete(PullSnapshotKey))
}

type envelope struct {
	Version  uint16
	Kind     uint8
	Payload  []byte
	Checksum [32]byte
}

type storedRecipient struct {
	Identity common.Address
	Reward   *big.Int
	Paid     bool
}

type pushState struct {
	Engine     common.Address
	Custodian  common.Address
	Balance    *big.Int
	Phase      uint8
	Recipients []storedRecipient
}

type storedEntry struct {
	Identity  common.Address
	Pending   *big.Int
	Withdrawn *big.Int
}

type pullState struct {
	Engine      common.Address
	Custodian   common.Address
	Pool        *big.Int
	Deposited   *big.Int
	Distributed *big.Int
	Recovered   *big.Int
	Entries     []storedEntry
}

func checksum(version uint16, kind SnapshotKind, payload []byte) [32]byte {
	buf := make([]byte, 0, len(payload)+3)
	buf = append(buf, byte(version>>8), byte(version), byte(kind))
	buf = append(buf, payload...)
	return blake3.Sum256(buf)
}

func seal(kind SnapshotKind, state any) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(state)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(envelope{
		Version:  SnapshotVersion,
		Kind:     uint8(kind),
		Payload:  payload,
		Checksum: checksum(SnapshotVersion, kind, payload),
	})
}

func unseal(data []byte, kind SnapshotKind, state any) error {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if env.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, env.Version)
	}
	if SnapshotKind(env.Kind) != kind {
		return fmt.Errorf("%w: snapshot kind %d, want %d", ErrCorruptSnapshot, env.Kind, kind)
	}
	if checksum(env.Version, kind, env.Payload) != env.Checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}
	if err := rlp.DecodeBytes(env.Payload, state); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return nil
}

func toBig(v *uint256.Int) *big.Int { return cloneAmount(v).ToBig() }

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %s out of range", ErrCorruptSnapshot, v.String())
	}
	return out, nil
}

// Snapshot serialises the push engine's registry and balance as of the last
// finished operation.
func (e *PushEngine) Snapshot() ([]byte, error) {
	v := e.view()
	state := pushState{
		Engine:    e.address,
		Custodian: e.custodian,
		Balance:   toBig(v.balance),
		Phase:     uint8(v.phase),
	}
	v.recipients.each(func(id common.Address, rec *RecipientRecord) bool {
		state.Recipients = append(state.Recipients, storedRecipient{Identity: id, Reward: toBig(rec.RewardAmount), Paid: rec.Paid})
		return true
	})
	return seal(KindPush, state)
}

// Persist writes the push engine snapshot to store.
func (e *PushEngine) Persist(store SnapshotStore) error {
	data, err := e.Snapshot()
	if err != nil {
		return err
	}
	return store.Put(PushSnapshotKey, data)
}

// RestorePushEngine rebuilds a push engine on rt from a snapshot.
func RestorePushEngine(rt *Runtime, data []byte) (*PushEngine, error) {
	var state pushState
	if err := unseal(data, KindPush, &state); err != nil {
		return nil, err
	}
	e, err := NewPushEngine(rt, state.Custodian)
	if err != nil {
		return nil, err
	}
	e.address = state.Engine
	if e.balance, err = fromBig(state.Balance); err != nil {
		return nil, err
	}
	switch phase := Phase(state.Phase); phase {
	case PhaseIdle, PhaseCompleted, PhaseAborted:
		e.phase = phase
	default:
		return nil, fmt.Errorf("%w: push engine phase %d", ErrCorruptSnapshot, state.Phase)
	}
	for _, stored := range state.Recipients {
		reward, err := fromBig(stored.Reward)
		if err != nil {
			return nil, err
		}
		if err := validateRegistration(stored.Identity, reward); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		if e.recipients.Contains(stored.Identity) {
			return nil, fmt.Errorf("%w: duplicate recipient %s", ErrCorruptSnapshot, stored.Identity.Hex())
		}
		e.recipients.set(stored.Identity, &RecipientRecord{Identity: stored.Identity, RewardAmount: reward, Paid: stored.Paid})
	}
	e.publish()
	return e, nil
}

// LoadPushEngine restores the push engine persisted in store.
func LoadPushEngine(rt *Runtime, store SnapshotStore) (*PushEngine, error) {
	data, err := store.Get(PushSnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("load push snapshot: %w", err)
	}
	return RestorePushEngine(rt, data)
}

// Snapshot serialises the pull engine's ledger and totals as of the last
// finished operation.
func (e *PullEngine) Snapshot() ([]byte, error) {
	v := e.view()
	state := pullState{
		Engine:      e.address,
		Custodian:   e.custodian,
		Pool:        toBig(v.totals.PoolBalance),
		Deposited:   toBig(v.totals.TotalDeposited),
		Distributed: toBig(v.totals.TotalDistributed),
		Recovered:   toBig(v.totals.TotalRecovered),
	}
	v.ledger.each(func(id common.Address, entry *LedgerEntry) bool {
		state.Entries = append(state.Entries, storedEntry{
			Identity:  id,
			Pending:   toBig(entry.PendingBalance),
			Withdrawn: toBig(entry.TotalWithdrawn),
		})
		return true
	})
	return seal(KindPull, state)
}

// Persist writes the pull engine snapshot to store.
func (e *PullEngine) Persist(store SnapshotStore) error {
	data, err := e.Snapshot()
	if err != nil {
		return err
	}
	return store.Put(PullSnapshotKey, data)
}

// RestorePullEngine rebuilds a pull engine on rt from a snapshot. The restored
// ledger must satisfy CheckPullInvariants.
func RestorePullEngine(rt *Runtime, data []byte) (*PullEngine, error) {
	var state pullState
	if err := unseal(data, KindPull, &state); err != nil {
		return nil, err
	}
	e, err := NewPullEngine(rt, state.Custodian)
	if err != nil {
		return nil, err
	}
	e.address = state.Engine
	totals := newTotals()
	for dst, src := range map[**uint256.Int]*big.Int{
		&totals.PoolBalance:      state.Pool,
		&totals.TotalDeposited:   state.Deposited,
		&totals.TotalDistributed: state.Distributed,
		&totals.TotalRecovered:   state.Recovered,
	} {
		if *dst, err = fromBig(src); err != nil {
			return nil, err
		}
	}
	for _, stored := range state.Entries {
		if stored.Identity == (common.Address{}) {
			return nil, fmt.Errorf("%w: ledger entry for the zero address", ErrCorruptSnapshot)
		}
		if e.ledger.Contains(stored.Identity) {
			return nil, fmt.Errorf("%w: duplicate ledger entry %s", ErrCorruptSnapshot, stored.Identity.Hex())
		}
		entry := &LedgerEntry{Identity: stored.Identity}
		if entry.PendingBalance, err = fromBig(stored.Pending); err != nil {
			return nil, err
		}
		if entry.TotalWithdrawn, err = fromBig(stored.Withdrawn); err != nil {
			return nil, err
		}
		if totals.TotalPending, err = checkedAdd(totals.TotalPending, entry.PendingBalance); err != nil {
			return nil, err
		}
		e.ledger.set(stored.Identity, entry)
	}
	e.totals = totals
	e.publish()
	if err := CheckPullInvariants(e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return e, nil
}

// LoadPullEngine restores the pull engine persisted in store.
func LoadPullEngine(rt *Runtime, store SnapshotStore) (*PullEngine, error) {
	data, err := store.Get(PullSnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("load pull snapshot: %w", err)
	}
	return RestorePullEngine(rt, data)
}
