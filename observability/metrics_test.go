package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRewardsMetrics(t *testing.T) {
	m := Rewards()
	require.Same(t, m, Rewards())

	m.ObserveOperation("pull", "withdraw", "ok", 72_100)
	m.ObserveOperation("pull", "withdraw", "transfer_rejected", 0)
	m.ObserveOperation("push", "distribute", "", 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("pull", "withdraw", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("pull", "withdraw", "transfer_rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("push", "distribute", "internal")))

	m.SetBalance("pull", big.NewInt(250))
	m.SetPending(big.NewInt(75))
	m.SetRecipients("", 4)
	require.Equal(t, 250.0, testutil.ToFloat64(m.balance.WithLabelValues("pull")))
	require.Equal(t, 75.0, testutil.ToFloat64(m.pending))
	require.Equal(t, 4.0, testutil.ToFloat64(m.recipients.WithLabelValues("unknown")))

	var nilMetrics *RewardsMetrics
	nilMetrics.ObserveOperation("pull", "deposit", "ok", 1)
}

func TestHTTPMetrics(t *testing.T) {
	m := HTTP()
	m.Observe("/v1/pull/withdraw", "POST", 409, 5*time.Millisecond)
	m.RecordThrottle("/v1/pull/withdraw", "")

	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("/v1/pull/withdraw", "POST", "409")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("/v1/pull/withdraw", "unspecified")))
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	m.RecordPublished("Rewards.Reward.Withdrawn")
	m.RecordDropped()
	m.SubscriberJoined()
	m.SubscriberJoined()
	m.SubscriberLeft()

	require.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("rewards.reward.withdrawn")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.subscribers))
}

func TestBigToFloat(t *testing.T) {
	require.Zero(t, bigToFloat(nil))
	require.Equal(t, 12.0, bigToFloat(big.NewInt(12)))
}
