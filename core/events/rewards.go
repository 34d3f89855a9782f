package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rewardledger/core/types"
)

const (
	TypeRecipientRegistered = "rewards.recipient.registered"
	TypeRewardSet           = "rewards.reward.set"
	TypeRewardsDistributed  = "rewards.distribution.completed"
	TypeDistributionAborted = "rewards.distribution.aborted"
	TypeFundsDeposited      = "rewards.funds.deposited"
	TypeRewardWithdrawn     = "rewards.reward.withdrawn"
	TypeFundsRecovered      = "rewards.funds.recovered"
)

// RecipientRegistered is emitted when the push engine admits a beneficiary.
type RecipientRegistered struct {
	Engine   common.Address
	Identity common.Address
	Amount   *uint256.Int
}

func (RecipientRegistered) EventType() string { return TypeRecipientRegistered }

func (e RecipientRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeRecipientRegistered,
		Attributes: map[string]string{
			"engine":   formatAddress(e.Engine),
			"identity": formatAddress(e.Identity),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// RewardSet is emitted when the pull engine creates or changes a pending
// balance.
type RewardSet struct {
	Engine   common.Address
	Identity common.Address
	Previous *uint256.Int
	Pending  *uint256.Int
}

func (RewardSet) EventType() string { return TypeRewardSet }

func (e RewardSet) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardSet,
		Attributes: map[string]string{
			"engine":   formatAddress(e.Engine),
			"identity": formatAddress(e.Identity),
			"previous": formatAmount(e.Previous),
			"pending":  formatAmount(e.Pending),
		},
	}
}

// RewardsDistributed is emitted after a push distribution paid everyone.
type RewardsDistributed struct {
	Engine     common.Address
	Recipients int
	Total      *uint256.Int
	Surplus    *uint256.Int
}

func (RewardsDistributed) EventType() string { return TypeRewardsDistributed }

func (e RewardsDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsDistributed,
		Attributes: map[string]string{
			"engine":     formatAddress(e.Engine),
			"recipients": intToString(e.Recipients),
			"total":      formatAmount(e.Total),
			"surplus":    formatAmount(e.Surplus),
		},
	}
}

// DistributionAborted is emitted when a push distribution rolled back after
// it started paying out. It describes a failure, not a state change.
type DistributionAborted struct {
	Engine     common.Address
	Recipients int
	Reason     string
}

func (DistributionAborted) EventType() string { return TypeDistributionAborted }

func (e DistributionAborted) Event() *types.Event {
	return &types.Event{
		Type: TypeDistributionAborted,
		Attributes: map[string]string{
			"engine":     formatAddress(e.Engine),
			"recipients": intToString(e.Recipients),
			"reason":     e.Reason,
		},
	}
}

// FundsDeposited is emitted when either engine receives funding.
type FundsDeposited struct {
	Engine common.Address
	From   common.Address
	Amount *uint256.Int
}

func (FundsDeposited) EventType() string { return TypeFundsDeposited }

func (e FundsDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsDeposited,
		Attributes: map[string]string{
			"engine": formatAddress(e.Engine),
			"from":   formatAddress(e.From),
			"amount": formatAmount(e.Amount),
		},
	}
}

// RewardWithdrawn is emitted when a beneficiary pulls its pending balance.
type RewardWithdrawn struct {
	Engine   common.Address
	Identity common.Address
	Amount   *uint256.Int
}

func (RewardWithdrawn) EventType() string { return TypeRewardWithdrawn }

func (e RewardWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardWithdrawn,
		Attributes: map[string]string{
			"engine":   formatAddress(e.Engine),
			"identity": formatAddress(e.Identity),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// FundsRecovered is emitted when the custodian sweeps funds through an
// emergency withdrawal.
type FundsRecovered struct {
	Engine    common.Address
	Custodian common.Address
	Amount    *uint256.Int
}

func (FundsRecovered) EventType() string { return TypeFundsRecovered }

func (e FundsRecovered) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsRecovered,
		Attributes: map[string]string{
			"engine":    formatAddress(e.Engine),
			"custodian": formatAddress(e.Custodian),
			"amount":    formatAmount(e.Amount),
		},
	}
}
