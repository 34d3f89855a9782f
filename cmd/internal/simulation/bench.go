package simulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"rewardledger/native/rewards"
)

// BenchRow compares what each engine spends for one recipient count.
type BenchRow struct {
	Recipients       int    `json:"recipients"`
	CostLimit        uint64 `json:"costLimit"`
	PushDistribute   uint64 `json:"pushDistributeCost"`
	PushSucceeded    bool   `json:"pushSucceeded"`
	PushErrorCode    string `json:"pushErrorCode,omitempty"`
	PullRegistration uint64 `json:"pullRegistrationCost"`
	PullWithdraw     uint64 `json:"pullWithdrawCost"`
}

// Bench measures, for each size, the cost of a push distribution, of
// registering the same recipients on the pull engine and of one pull
// withdrawal. A push distribution over the ceiling is reported with its
// estimated cost and PushSucceeded false.
func Bench(ctx context.Context, sizes []int, opts ...rewards.Option) ([]BenchRow, error) {
	rows := make([]BenchRow, 0, len(sizes))
	for _, n := range sizes {
		if n <= 0 {
			return nil, fmt.Errorf("invalid size %d", n)
		}
		row, err := benchOne(ctx, n, opts)
		if err != nil {
			return nil, fmt.Errorf("size %d: %w", n, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func benchOne(ctx context.Context, n int, opts []rewards.Option) (BenchRow, error) {
	env, err := NewEnv(opts...)
	if err != nil {
		return BenchRow{}, err
	}
	ids, err := Identities(n)
	if err != nil {
		return BenchRow{}, err
	}
	_, pullCost, err := env.RegisterBoth(ctx, ids, 1)
	if err != nil {
		return BenchRow{}, err
	}
	row := BenchRow{Recipients: n, CostLimit: env.Runtime.CostLimit(), PullRegistration: pullCost}

	receipt, err := env.Push.Distribute(ctx, env.Custodian, uint256.NewInt(uint64(n)))
	switch {
	case err == nil:
		row.PushSucceeded = true
		row.PushDistribute = receipt.CostUsed
	case errors.Is(err, rewards.ErrResourceExceeded):
		row.PushDistribute = env.Push.EstimateDistributeCost()
		row.PushErrorCode = rewards.Code(err)
	default:
		return BenchRow{}, err
	}

	if _, err := env.Pull.Deposit(ctx, env.Custodian, uint256.NewInt(uint64(n))); err != nil {
		return BenchRow{}, err
	}
	receipt, err = env.Pull.Withdraw(ctx, ids[n-1])
	if err != nil {
		return BenchRow{}, err
	}
	row.PullWithdraw = receipt.CostUsed
	return row, nil
}
