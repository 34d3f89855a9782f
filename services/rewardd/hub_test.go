package rewardd

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rewardledger/core/events"
	"rewardledger/native/rewards"
)

func amount(n uint64) *uint256.Int { return uint256.NewInt(n) }

type untyped struct{}

func (untyped) EventType() string { return "untyped" }

func TestHubSequencesAndReplays(t *testing.T) {
	hub := NewHub(2)
	for i := 0; i < 3; i++ {
		hub.Emit(events.FundsDeposited{Engine: custodian, From: alice, Amount: amount(uint64(i + 1))})
	}
	hub.Emit(untyped{})
	require.Equal(t, uint64(3), hub.Sequence())

	recent := hub.Recent(0)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(2), recent[0].Sequence)
	require.Equal(t, uint64(3), recent[1].Sequence)

	ch, cancel := hub.Subscribe(2)
	defer cancel()
	replayed := <-ch
	require.Equal(t, uint64(3), replayed.Sequence)

	hub.Emit(events.RewardWithdrawn{Engine: custodian, Identity: alice, Amount: amount(1)})
	live := <-ch
	require.Equal(t, uint64(4), live.Sequence)
	require.Equal(t, events.TypeRewardWithdrawn, live.Type)
	require.Equal(t, "1", live.Attributes["amount"])
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe(0)
	hub.Emit(events.FundsDeposited{Engine: custodian, From: alice, Amount: amount(1)})
	hub.Emit(events.FundsDeposited{Engine: custodian, From: alice, Amount: amount(2)})
	require.Len(t, ch, 1)
	require.Equal(t, uint64(1), (<-ch).Sequence)

	cancel()
	cancel()
	hub.Emit(events.FundsDeposited{Engine: custodian, From: alice, Amount: amount(3)})
	require.Empty(t, ch)
}

func TestStatusForCoversEveryCode(t *testing.T) {
	for _, err := range []error{
		rewards.ErrUnauthorized,
		rewards.ErrInvalidArgument,
		rewards.ErrInsufficientFunds,
		rewards.ErrTransferRejected,
		rewards.ErrResourceExceeded,
		rewards.ErrNoPendingReward,
		rewards.ErrInsufficientPoolBalance,
		rewards.ErrArithmeticOverflow,
		rewards.ErrReentrantCall,
	} {
		require.Less(t, statusFor(rewards.Code(err)), 500, rewards.Code(err))
	}
	require.Equal(t, 500, statusFor(rewards.Code(rewards.ErrCorruptSnapshot)))
}
