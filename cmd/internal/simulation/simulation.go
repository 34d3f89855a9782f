// Package simulation replays the attack and load scenarios against fresh push
// and pull engines so their behaviour can be compared side by side.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rewardledger/native/rewards"
	"rewardledger/native/rewards/adversary"
)

// BatchSize is how many recipients a single registration call carries.
const BatchSize = 100

// Outcome describes how one engine fared in a scenario.
type Outcome struct {
	Succeeded bool   `json:"succeeded"`
	Code      string `json:"code"`
	Cost      uint64 `json:"cost"`
	Detail    string `json:"detail"`
}

// Result is the side-by-side report of one scenario.
type Result struct {
	Scenario string   `json:"scenario"`
	Push     Outcome  `json:"push"`
	Pull     Outcome  `json:"pull"`
	Notes    []string `json:"notes,omitempty"`
}

func (r *Result) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func outcome(receipt *rewards.Receipt, err error, detail string) Outcome {
	out := Outcome{Succeeded: err == nil, Code: rewards.Code(err), Detail: detail}
	if receipt != nil {
		out.Cost = receipt.CostUsed
	}
	if err != nil && detail == "" {
		out.Detail = err.Error()
	}
	return out
}

// Env is a runtime with one engine of each kind owned by the same custodian.
type Env struct {
	Runtime   *rewards.Runtime
	Push      *rewards.PushEngine
	Pull      *rewards.PullEngine
	Custodian common.Address
}

// NewEnv deploys both engines for a random custodian.
func NewEnv(opts ...rewards.Option) (*Env, error) {
	custodian, err := adversary.NewIdentity()
	if err != nil {
		return nil, err
	}
	rt := rewards.NewRuntime(opts...)
	push, err := rewards.NewPushEngine(rt, custodian)
	if err != nil {
		return nil, err
	}
	pull, err := rewards.NewPullEngine(rt, custodian)
	if err != nil {
		return nil, err
	}
	return &Env{Runtime: rt, Push: push, Pull: pull, Custodian: custodian}, nil
}

// Identities returns n fresh random identities.
func Identities(n int) ([]common.Address, error) {
	out := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		id, err := adversary.NewIdentity()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func uniform(n int, amount uint64) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for i := range out {
		out[i] = uint256.NewInt(amount)
	}
	return out
}

// RegisterBoth assigns amount to every id on both engines in BatchSize
// chunks and returns the summed cost per engine.
func (e *Env) RegisterBoth(ctx context.Context, ids []common.Address, amount uint64) (pushCost, pullCost uint64, err error) {
	for start := 0; start < len(ids); start += BatchSize {
		end := start + BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		receipt, err := e.Push.RegisterBatch(ctx, e.Custodian, chunk, uniform(len(chunk), amount))
		if err != nil {
			return 0, 0, fmt.Errorf("push batch at %d: %w", start, err)
		}
		pushCost += receipt.CostUsed
		receipt, err = e.Pull.RegisterBatch(ctx, e.Custodian, chunk, uniform(len(chunk), amount))
		if err != nil {
			return 0, 0, fmt.Errorf("pull batch at %d: %w", start, err)
		}
		pullCost += receipt.CostUsed
	}
	return pushCost, pullCost, nil
}

// Scenario runs one simulation.
type Scenario func(ctx context.Context, opts ...rewards.Option) (Result, error)

// Scenarios lists the attack simulations by name.
var Scenarios = map[string]Scenario{
	"revert":     RevertAttack,
	"gas-grief":  GasGriefing,
	"reentrancy": Reentrancy,
	"large-list": func(ctx context.Context, opts ...rewards.Option) (Result, error) {
		return LargeList(ctx, 200, opts...)
	},
}

// ScenarioNames returns the Scenarios keys in a stable order.
func ScenarioNames() []string {
	names := make([]string, 0, len(Scenarios))
	for name := range Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hostileScenario registers two honest recipients around one hostile
// receiver on both engines, then tries to pay everyone.
func hostileScenario(ctx context.Context, name string, hostile rewards.Receiver, opts []rewards.Option) (Result, error) {
	res := Result{Scenario: name}
	env, err := NewEnv(opts...)
	if err != nil {
		return res, err
	}
	ids, err := Identities(3)
	if err != nil {
		return res, err
	}
	attacker := ids[1]
	env.Runtime.Accounts().Install(attacker, hostile)
	if _, _, err := env.RegisterBoth(ctx, ids, 100); err != nil {
		return res, err
	}

	receipt, err := env.Push.Distribute(ctx, env.Custodian, uint256.NewInt(300))
	if err != nil {
		res.Push = outcome(receipt, err, fmt.Sprintf("one hostile recipient blocked all %d payouts", len(ids)))
	} else {
		res.Push = outcome(receipt, nil, "distribution succeeded")
	}

	if _, err := env.Pull.Deposit(ctx, env.Custodian, uint256.NewInt(300)); err != nil {
		return res, err
	}
	paid := 0
	for _, id := range []common.Address{ids[0], ids[2]} {
		if _, err := env.Pull.Withdraw(ctx, id); err != nil {
			return res, fmt.Errorf("honest withdrawal failed: %w", err)
		}
		paid++
	}
	_, attackErr := env.Pull.Withdraw(ctx, attacker)
	res.Pull = Outcome{
		Succeeded: true,
		Code:      "ok",
		Detail:    fmt.Sprintf("%d honest recipients withdrew; hostile withdrawal returned %s", paid, rewards.Code(attackErr)),
	}
	res.note("hostile pending balance left intact: %s", env.Pull.Balance(attacker).Dec())
	if err := rewards.CheckPullInvariants(env.Pull); err != nil {
		return res, err
	}
	return res, nil
}

// RevertAttack pits a receiver that rejects every payment against both
// engines.
func RevertAttack(ctx context.Context, opts ...rewards.Option) (Result, error) {
	return hostileScenario(ctx, "revert", adversary.NewReceiver(adversary.ModeRevert), opts)
}

// GasGriefing pits a receiver that burns its whole forwarded budget against
// both engines.
func GasGriefing(ctx context.Context, opts ...rewards.Option) (Result, error) {
	return hostileScenario(ctx, "gas-grief", adversary.GasBurner{}, opts)
}

// Reentrancy lets a receiver call back into the engine paying it.
func Reentrancy(ctx context.Context, opts ...rewards.Option) (Result, error) {
	res := Result{Scenario: "reentrancy"}
	env, err := NewEnv(opts...)
	if err != nil {
		return res, err
	}
	ids, err := Identities(2)
	if err != nil {
		return res, err
	}
	attacker := ids[0]

	pushAttack := adversary.NewReentrant(1, func(ctx context.Context) error {
		_, err := env.Push.Distribute(ctx, env.Custodian, uint256.NewInt(200))
		return err
	})
	env.Runtime.Accounts().Install(attacker, pushAttack)
	if _, err := env.Push.RegisterBatch(ctx, env.Custodian, ids, uniform(len(ids), 100)); err != nil {
		return res, err
	}
	receipt, err := env.Push.Distribute(ctx, env.Custodian, uint256.NewInt(200))
	res.Push = outcome(receipt, err, "")
	if err == nil {
		res.Push.Detail = fmt.Sprintf("nested distribute refused: %s", codeOf(pushAttack.Errors()))
	}

	pullAttack := adversary.NewReentrantWithdrawer(env.Pull, attacker, 3)
	env.Runtime.Accounts().Install(attacker, pullAttack)
	if _, err := env.Pull.RegisterBatch(ctx, env.Custodian, ids, uniform(len(ids), 100)); err != nil {
		return res, err
	}
	if _, err := env.Pull.Deposit(ctx, env.Custodian, uint256.NewInt(200)); err != nil {
		return res, err
	}
	before := env.Runtime.Accounts().Balance(attacker)
	receipt, err = env.Pull.Withdraw(ctx, attacker)
	res.Pull = outcome(receipt, err, "")
	if err == nil {
		gained := new(uint256.Int).Sub(env.Runtime.Accounts().Balance(attacker), before)
		stolen := adversary.Stolen(uint256.NewInt(100), gained)
		res.Pull.Detail = fmt.Sprintf("nested withdraw refused: %s; extra collected: %s", codeOf(pullAttack.Errors()), stolen.Dec())
	}
	res.note("honest recipient still owed %s", env.Pull.Balance(ids[1]).Dec())
	if err := rewards.CheckPullInvariants(env.Pull); err != nil {
		return res, err
	}
	return res, nil
}

func codeOf(errs []error) string {
	if len(errs) == 0 {
		return "not attempted"
	}
	return rewards.Code(errs[0])
}

// LargeList registers n recipients on both engines and tries to pay them.
func LargeList(ctx context.Context, n int, opts ...rewards.Option) (Result, error) {
	res := Result{Scenario: fmt.Sprintf("large-list-%d", n)}
	if n <= 0 {
		return res, errors.New("recipient count must be positive")
	}
	env, err := NewEnv(opts...)
	if err != nil {
		return res, err
	}
	ids, err := Identities(n)
	if err != nil {
		return res, err
	}
	if _, _, err := env.RegisterBoth(ctx, ids, 1); err != nil {
		return res, err
	}

	receipt, err := env.Push.Distribute(ctx, env.Custodian, uint256.NewInt(uint64(n)))
	res.Push = outcome(receipt, err, "")
	if err != nil {
		res.Push.Cost = env.Push.EstimateDistributeCost()
		res.Push.Detail = fmt.Sprintf("distribution needs %d units, ceiling is %d", res.Push.Cost, env.Runtime.CostLimit())
	}

	if _, err := env.Pull.Deposit(ctx, env.Custodian, uint256.NewInt(uint64(n))); err != nil {
		return res, err
	}
	receipt, err = env.Pull.Withdraw(ctx, ids[n-1])
	res.Pull = outcome(receipt, err, "")
	if err == nil {
		res.Pull.Detail = fmt.Sprintf("each of %d recipients withdraws independently", n)
	}
	res.note("push can pay at most %d recipients per call", env.Runtime.Costs().MaxDistributable(env.Runtime.CostLimit()))
	return res, nil
}

// Distribute runs an honest push distribution to n random recipients.
func Distribute(ctx context.Context, n int, opts ...rewards.Option) (Result, error) {
	res := Result{Scenario: fmt.Sprintf("distribute-%d", n)}
	if n <= 0 {
		return res, errors.New("recipient count must be positive")
	}
	env, err := NewEnv(opts...)
	if err != nil {
		return res, err
	}
	ids, err := Identities(n)
	if err != nil {
		return res, err
	}
	if _, _, err := env.RegisterBoth(ctx, ids, 10); err != nil {
		return res, err
	}
	required, err := env.Push.RequiredFunds()
	if err != nil {
		return res, err
	}
	receipt, err := env.Push.Distribute(ctx, env.Custodian, required)
	res.Push = outcome(receipt, err, "")
	if err == nil {
		res.Push.Detail = fmt.Sprintf("paid %d recipients %s in total", receipt.Recipients, receipt.Amount.Dec())
	}

	if _, err := env.Pull.Deposit(ctx, env.Custodian, required); err != nil {
		return res, err
	}
	var total uint64
	for _, id := range ids {
		receipt, err := env.Pull.Withdraw(ctx, id)
		if err != nil {
			res.Pull = outcome(receipt, err, "")
			return res, nil
		}
		total += receipt.CostUsed
	}
	res.Pull = Outcome{Succeeded: true, Code: "ok", Cost: total, Detail: fmt.Sprintf("%d withdrawals", n)}
	if err := rewards.CheckPullInvariants(env.Pull); err != nil {
		return res, err
	}
	return res, nil
}
