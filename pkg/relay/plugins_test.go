package relay

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

type testPlugin struct {
	name     string
	calls    *[]string
	err      error
	panicMsg string
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) HandleRadioMessage(_ context.Context, _ models.RadioPacket, formatted, _, _ string) error {
	*p.calls = append(*p.calls, p.name+":radio:"+formatted)
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	return p.err
}

func (p *testPlugin) HandleChatMessage(_ context.Context, roomID string, _ models.ChatEvent, formatted string) error {
	*p.calls = append(*p.calls, p.name+":chat:"+roomID)
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	return p.err
}

func TestPipelineOrderAndIsolation(t *testing.T) {
	var calls []string
	metrics := NewMetrics(prometheus.NewRegistry())
	p := NewPipeline(nil, metrics, time.Second,
		&testPlugin{name: "first", calls: &calls, err: errBoom},
		&testPlugin{name: "second", calls: &calls, panicMsg: "kaboom"},
		&testPlugin{name: "third", calls: &calls},
	)

	p.DispatchRadio(context.Background(), models.RadioPacket{}, "[A/M]: hi", "A", "M")
	p.DispatchChat(context.Background(), "!room", models.ChatEvent{}, "x")

	require.Equal(t, []string{
		"first:radio:[A/M]: hi", "second:radio:[A/M]: hi", "third:radio:[A/M]: hi",
		"first:chat:!room", "second:chat:!room", "third:chat:!room",
	}, calls)
	require.Equal(t, []string{"first", "second", "third"}, p.Names())
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.pluginFailures.WithLabelValues("first")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.pluginFailures.WithLabelValues("second")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.pluginFailures.WithLabelValues("third")))
}

// stuckPlugin blocks until release is closed, ignoring its context.
type stuckPlugin struct {
	release chan struct{}
}

func (p *stuckPlugin) Name() string { return "stuck" }

func (p *stuckPlugin) HandleRadioMessage(context.Context, models.RadioPacket, string, string, string) error {
	<-p.release
	return nil
}

func (p *stuckPlugin) HandleChatMessage(context.Context, string, models.ChatEvent, string) error {
	<-p.release
	return nil
}

func newStuckPlugin(t *testing.T) *stuckPlugin {
	p := &stuckPlugin{release: make(chan struct{})}
	t.Cleanup(func() { close(p.release) })
	return p
}

func TestPipelineHungPluginTimesOut(t *testing.T) {
	var calls []string
	metrics := NewMetrics(prometheus.NewRegistry())
	p := NewPipeline(nil, metrics, 20*time.Millisecond,
		newStuckPlugin(t),
		&testPlugin{name: "after", calls: &calls},
	)

	start := time.Now()
	p.DispatchRadio(context.Background(), models.RadioPacket{}, "[A/M]: hi", "A", "M")
	p.DispatchChat(context.Background(), "!room", models.ChatEvent{}, "x")

	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, []string{"after:radio:[A/M]: hi", "after:chat:!room"}, calls)
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.pluginFailures.WithLabelValues("stuck")))
}

func TestPipelineDefaultTimeout(t *testing.T) {
	require.Equal(t, DefaultPluginTimeout, NewPipeline(nil, nil, 0).timeout)
}
