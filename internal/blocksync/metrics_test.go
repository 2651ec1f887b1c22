package blocksync

import (
	"testing"

	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ReportedOnTick(t *testing.T) {
	m := NopMetrics()
	peers := generic.NewGauge("peers")
	frontier := generic.NewGauge("frontier")
	pending := generic.NewGauge("pending")
	received := generic.NewCounter("received")
	m.Peers, m.FrontierSize, m.PendingFetches, m.BlocksReceived = peers, frontier, pending, received

	f := newFixture(t, WithMetrics(m))
	blocks := f.addBlocks(t, 10)
	f.connect(t, peerA)
	f.coord.Enqueue(hashesOf(blocks)...)
	f.coord.Tick(f.tr)

	assert.Equal(t, 1.0, peers.Value())
	assert.Equal(t, 2.0, frontier.Value())
	assert.Equal(t, 8.0, pending.Value())

	require.NoError(t, f.coord.OnBlock(peerA, blocks[0]))
	assert.Equal(t, 1.0, received.Value())
}

func TestPrometheusMetrics(t *testing.T) {
	m := PrometheusMetrics("btcrelay_test", "network", "regtest")
	assert.NotNil(t, m.Peers)
	assert.NotNil(t, m.InvalidMessages)
	m.InvalidMessages.Add(1)
	m.ActiveTipHeight.Set(3)
}
