package rewards_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rewardledger/native/rewards"
	"rewardledger/native/rewards/adversary"
)

// expectedErrors are the failures a random operation sequence may legitimately
// produce. Anything else is a bug.
var expectedErrors = []error{
	rewards.ErrUnauthorized,
	rewards.ErrInvalidArgument,
	rewards.ErrInsufficientFunds,
	rewards.ErrTransferRejected,
	rewards.ErrResourceExceeded,
	rewards.ErrNoPendingReward,
	rewards.ErrInsufficientPoolBalance,
}

func requireExpected(t *testing.T, err error, step int) {
	t.Helper()
	if err == nil {
		return
	}
	for _, candidate := range expectedErrors {
		if errors.Is(err, candidate) {
			return
		}
	}
	t.Fatalf("step %d: unexpected error %v", step, err)
}

func TestRandomOperationsPreserveInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20240611))

	for run := 0; run < 5; run++ {
		f := newFixture(t)
		users := identities(12)
		callers := append([]common.Address{custodian, stranger}, users...)
		hostile := adversary.NewReceiver(adversary.ModeNone)
		f.rt.Accounts().Install(users[0], hostile)
		f.rt.Accounts().Install(users[1], adversary.NewReentrantWithdrawer(f.pull, users[1], 3))
		f.rt.Accounts().Install(users[2], adversary.GasBurner{})

		for step := 0; step < 400; step++ {
			caller := callers[rng.Intn(len(callers))]
			user := users[rng.Intn(len(users))]
			amount := uint256.NewInt(uint64(rng.Intn(50)))

			var err error
			switch rng.Intn(9) {
			case 0:
				_, err = f.pull.Register(ctx, caller, user, amount)
			case 1:
				_, err = f.pull.IncreaseReward(ctx, caller, user, amount)
			case 2:
				_, err = f.pull.Deposit(ctx, caller, amount)
			case 3, 4:
				_, err = f.pull.Withdraw(ctx, user)
			case 5:
				_, err = f.pull.EmergencyWithdraw(ctx, caller)
			case 6:
				_, err = f.push.Register(ctx, caller, user, amount)
			case 7:
				_, err = f.push.Distribute(ctx, caller, amount)
			case 8:
				hostile.SetMode(adversary.Mode(rng.Intn(3)))
			}
			requireExpected(t, err, step)
			require.NoError(t, rewards.CheckPullInvariants(f.pull), "run %d step %d", run, step)
			require.NoError(t, rewards.CheckPushInvariants(f.push), "run %d step %d", run, step)
		}

		// Every unit paid out by either engine sits in an external account.
		totals := f.pull.Totals()
		outflow := new(uint256.Int).Add(totals.TotalDistributed, totals.TotalRecovered)
		paidByPush := new(uint256.Int)
		for _, rec := range f.push.Records() {
			if rec.Paid {
				paidByPush.Add(paidByPush, rec.RewardAmount)
			}
		}
		held := new(uint256.Int)
		for _, holder := range f.rt.Accounts().Holders() {
			held.Add(held, f.rt.Accounts().Balance(holder))
		}
		require.Equal(t, new(uint256.Int).Add(outflow, paidByPush).Dec(), held.Dec(), "run %d", run)
	}
}
