package rewards

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry[*RecipientRecord]()
	ids := []common.Address{
		common.HexToAddress("0x03"),
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
	}
	for i, id := range ids {
		reg.set(id, &RecipientRecord{Identity: id, RewardAmount: uint256.NewInt(uint64(i + 1))})
	}

	require.Equal(t, 3, reg.Len())
	require.Equal(t, ids, reg.Identities())

	// Overwriting keeps the original position.
	reg.set(ids[1], &RecipientRecord{Identity: ids[1], RewardAmount: uint256.NewInt(9)})
	require.Equal(t, ids, reg.Identities())
	rec, ok := reg.Lookup(ids[1])
	require.True(t, ok)
	require.Equal(t, uint64(9), rec.RewardAmount.Uint64())
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	reg := NewRegistry[*LedgerEntry]()
	id := common.HexToAddress("0xaa")
	reg.set(id, &LedgerEntry{Identity: id, PendingBalance: uint256.NewInt(5), TotalWithdrawn: new(uint256.Int)})

	entry, ok := reg.Lookup(id)
	require.True(t, ok)
	entry.PendingBalance.SetUint64(500)

	again, _ := reg.Lookup(id)
	require.Equal(t, uint64(5), again.PendingBalance.Uint64())

	_, ok = reg.Lookup(common.HexToAddress("0xbb"))
	require.False(t, ok)
}

func TestRegistrySetUndo(t *testing.T) {
	reg := NewRegistry[*RecipientRecord]()
	a, b := common.HexToAddress("0x0a"), common.HexToAddress("0x0b")

	undoA := reg.set(a, &RecipientRecord{Identity: a, RewardAmount: uint256.NewInt(1)})
	undoB := reg.set(b, &RecipientRecord{Identity: b, RewardAmount: uint256.NewInt(2)})
	undoPaid := reg.set(a, &RecipientRecord{Identity: a, RewardAmount: uint256.NewInt(1), Paid: true})

	undoPaid()
	rec, _ := reg.Lookup(a)
	require.False(t, rec.Paid)

	undoB()
	require.False(t, reg.Contains(b))
	require.Equal(t, []common.Address{a}, reg.Identities())

	undoA()
	require.Zero(t, reg.Len())
	require.Empty(t, reg.Records())
}

func TestNilRegistryIsEmpty(t *testing.T) {
	var reg *Registry[*RecipientRecord]
	require.Zero(t, reg.Len())
	require.False(t, reg.Contains(common.HexToAddress("0x01")))
	require.Nil(t, reg.Identities())
	_, ok := reg.Lookup(common.HexToAddress("0x01"))
	require.False(t, ok)
}
