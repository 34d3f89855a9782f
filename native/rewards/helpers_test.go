package rewards_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rewardledger/core/events"
	"rewardledger/native/rewards"
)

var (
	custodian = common.HexToAddress("0xc0ffee")
	stranger  = common.HexToAddress("0x5757")
	alice     = common.HexToAddress("0xa11ce")
	bob       = common.HexToAddress("0xb0b")
	carol     = common.HexToAddress("0xca401")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func identities(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BigToAddress(big.NewInt(int64(0x10000 + i)))
	}
	return out
}

func uniform(n int, v uint64) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for i := range out {
		out[i] = amt(v)
	}
	return out
}

type fixture struct {
	rt       *rewards.Runtime
	recorder *events.Recorder
	push     *rewards.PushEngine
	pull     *rewards.PullEngine
}

func newFixture(t *testing.T, opts ...rewards.Option) *fixture {
	t.Helper()
	recorder := &events.Recorder{}
	rt := rewards.NewRuntime(append([]rewards.Option{rewards.WithEmitter(recorder)}, opts...)...)
	push, err := rewards.NewPushEngine(rt, custodian)
	require.NoError(t, err)
	pull, err := rewards.NewPullEngine(rt, custodian)
	require.NoError(t, err)
	return &fixture{rt: rt, recorder: recorder, push: push, pull: pull}
}

func requireAmount(t *testing.T, want uint64, got *uint256.Int, msgAndArgs ...any) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, amt(want).Dec(), got.Dec(), msgAndArgs...)
}

func requirePullConsistent(t *testing.T, e *rewards.PullEngine) {
	t.Helper()
	require.NoError(t, rewards.CheckPullInvariants(e))
}
