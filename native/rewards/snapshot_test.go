package rewards

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rewardledger/storage"
)

var (
	snapCustodian = common.HexToAddress("0xc0de")
	snapAlice     = common.HexToAddress("0x0a")
	snapBob       = common.HexToAddress("0x0b")
)

func TestPushSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()
	push, err := NewPushEngine(rt, snapCustodian)
	require.NoError(t, err)
	_, err = push.RegisterBatch(ctx, snapCustodian, []common.Address{snapAlice, snapBob}, []*uint256.Int{uint256.NewInt(4), uint256.NewInt(6)})
	require.NoError(t, err)
	_, err = push.Distribute(ctx, snapCustodian, uint256.NewInt(15))
	require.NoError(t, err)
	_, err = push.Register(ctx, snapCustodian, snapCustodian, uint256.NewInt(1))
	require.NoError(t, err)

	db := storage.NewMemDB()
	require.NoError(t, push.Persist(db))

	restored, err := LoadPushEngine(NewRuntime(), db)
	require.NoError(t, err)
	require.Equal(t, push.Address(), restored.Address())
	require.Equal(t, push.Custodian(), restored.Custodian())
	require.Equal(t, push.Records(), restored.Records())
	require.Equal(t, PhaseCompleted, restored.Phase())
	require.Equal(t, "5", restored.Balance().Dec())
	require.NoError(t, CheckPushInvariants(restored))
}

func TestPullSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()
	pull, err := NewPullEngine(rt, snapCustodian)
	require.NoError(t, err)
	_, err = pull.RegisterBatch(ctx, snapCustodian, []common.Address{snapAlice, snapBob}, []*uint256.Int{uint256.NewInt(40), uint256.NewInt(60)})
	require.NoError(t, err)
	_, err = pull.Deposit(ctx, snapBob, uint256.NewInt(120))
	require.NoError(t, err)
	_, err = pull.Withdraw(ctx, snapAlice)
	require.NoError(t, err)
	_, err = pull.EmergencyWithdraw(ctx, snapCustodian)
	require.NoError(t, err)

	db := storage.NewMemDB()
	require.NoError(t, pull.Persist(db))

	restored, err := LoadPullEngine(NewRuntime(), db)
	require.NoError(t, err)
	require.Equal(t, pull.Address(), restored.Address())
	require.Equal(t, pull.Entries(), restored.Entries())
	require.Equal(t, pull.Totals(), restored.Totals())
	require.NoError(t, CheckPullInvariants(restored))

	_, err = restored.Withdraw(ctx, snapBob)
	require.NoError(t, err)
	require.True(t, restored.PoolBalance().IsZero())
}

func TestLoadMissingSnapshot(t *testing.T) {
	_, err := LoadPullEngine(NewRuntime(), storage.NewMemDB())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClearSnapshots(t *testing.T) {
	rt := NewRuntime()
	push, err := NewPushEngine(rt, snapCustodian)
	require.NoError(t, err)
	pull, err := NewPullEngine(rt, snapCustodian)
	require.NoError(t, err)

	db := storage.NewMemDB()
	require.NoError(t, push.Persist(db))
	require.NoError(t, pull.Persist(db))
	require.NoError(t, ClearSnapshots(db))

	_, err = LoadPushEngine(NewRuntime(), db)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = LoadPullEngine(NewRuntime(), db)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Clearing an empty store is fine.
	require.NoError(t, ClearSnapshots(db))
}

func TestSnapshotRejectsTampering(t *testing.T) {
	rt := NewRuntime()
	pull, err := NewPullEngine(rt, snapCustodian)
	require.NoError(t, err)
	_, err = pull.Register(context.Background(), snapCustodian, snapAlice, uint256.NewInt(3))
	require.NoError(t, err)
	data, err := pull.Snapshot()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, rlp.DecodeBytes(data, &env))
	env.Payload[len(env.Payload)-1] ^= 0xff
	tampered, err := rlp.EncodeToBytes(env)
	require.NoError(t, err)
	_, err = RestorePullEngine(NewRuntime(), tampered)
	require.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = RestorePushEngine(NewRuntime(), data)
	require.ErrorIs(t, err, ErrCorruptSnapshot, "kind mismatch")

	_, err = RestorePullEngine(NewRuntime(), []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotRejectsInconsistentTotals(t *testing.T) {
	state := pullState{
		Engine:      common.HexToAddress("0xe1"),
		Custodian:   snapCustodian,
		Pool:        uint256.NewInt(10).ToBig(),
		Deposited:   uint256.NewInt(5).ToBig(),
		Distributed: new(uint256.Int).ToBig(),
		Recovered:   new(uint256.Int).ToBig(),
	}
	data, err := seal(KindPull, state)
	require.NoError(t, err)

	_, err = RestorePullEngine(NewRuntime(), data)
	require.ErrorIs(t, err, ErrCorruptSnapshot)
	require.ErrorContains(t, err, "pool 10, expected 5")
}
