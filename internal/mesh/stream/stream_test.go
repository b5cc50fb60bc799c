package stream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l4batch"
	"github.com/banshee-data/visualmesh/internal/monitoring"
)

func testBatch(t *testing.T) *mesh.Batch {
	t.Helper()
	a := &mesh.Graph{
		X:   [][3]float32{{0, 0, 1}, {1, 0, 1}},
		G:   [][]int32{{1, -1}, {0, -1}},
		Y:   [][]float32{{1, 0}, {0, 1}},
		W:   []float32{1, 0},
		C:   [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		V:   []float32{1, 0},
		N:   []int{2},
		Jpg: [][]byte{[]byte("a")},
	}
	b := &mesh.Graph{
		X:   [][3]float32{{2, 2, 2}},
		G:   [][]int32{{-1, -1}},
		Y:   [][]float32{{0, 0}},
		W:   []float32{0},
		C:   [][]float32{{1, 1, 1}},
		V:   []float32{1},
		N:   []int{0, 1},
		Jpg: [][]byte{[]byte("left"), []byte("right")},
	}
	batch, err := l4batch.Reduce([]*mesh.Graph{a, b}, 2)
	require.NoError(t, err)
	return batch
}

func TestCodec_BatchRoundTrip(t *testing.T) {
	want := &BatchMessage{Seq: 42, Batch: testBatch(t)}
	data, err := Codec{}.Marshal(want)
	require.NoError(t, err)

	got := new(BatchMessage)
	require.NoError(t, Codec{}.Unmarshal(data, got))
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(3), got.Batch.G[3][0], "sentinel row survives")
}

func TestCodec_SubscribeRequest(t *testing.T) {
	data, err := Codec{}.Marshal(&SubscribeRequest{ClientName: "trainer"})
	require.NoError(t, err)
	var req SubscribeRequest
	require.NoError(t, Codec{}.Unmarshal(data, &req))
	assert.Equal(t, "trainer", req.ClientName)
	assert.Equal(t, CodecName, Codec{}.Name())
}

func TestCodec_Errors(t *testing.T) {
	_, err := Codec{}.Marshal("nope")
	assert.ErrorIs(t, err, ErrBadMessage)
	_, err = Codec{}.Marshal(&BatchMessage{})
	assert.ErrorIs(t, err, ErrBadMessage)
	_, err = Codec{}.Marshal(&BatchMessage{Batch: &mesh.Batch{G: [][]int32{{1}, {1, 2}}}})
	assert.ErrorIs(t, err, ErrBadMessage, "ragged rows")

	assert.ErrorIs(t, Codec{}.Unmarshal([]byte{0xff}, new(BatchMessage)), ErrBadMessage)
	assert.ErrorIs(t, Codec{}.Unmarshal(nil, new(int)), ErrBadMessage)

	// Two X values cannot form a node.
	bad := appendPackedFloats(nil, batchX, []float32{1, 2})
	assert.ErrorIs(t, Codec{}.Unmarshal(bad, new(BatchMessage)), ErrBadMessage)
}

func startPublisher(t *testing.T, cfg Config, metrics *monitoring.Metrics) (*Publisher, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	p := NewPublisher(cfg, metrics)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return p, conn
}

func TestPublisher_StreamsBatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	require.NoError(t, err)

	p, conn := startPublisher(t, DefaultConfig(), metrics)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, conn, "trainer")
	require.NoError(t, err)
	require.NoError(t, p.WaitForClients(ctx, 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamClients))

	batch := testBatch(t)
	sink := p.Sink()
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Deliver(ctx, batch))
	}

	for i := 0; i < 3; i++ {
		msg, err := sub.Recv()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), msg.Seq)
		assert.Equal(t, batch.Nodes(), msg.Batch.Nodes())
		assert.Equal(t, batch.N, msg.Batch.N)
	}
	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Published)
	assert.True(t, stats.Running)
}

func TestPublisher_MaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	p, conn := startPublisher(t, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Subscribe(ctx, conn, "first")
	require.NoError(t, err)
	require.NoError(t, p.WaitForClients(ctx, 1))

	second, err := Subscribe(ctx, conn, "second")
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_StopEndsStreams(t *testing.T) {
	p, conn := startPublisher(t, DefaultConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, conn, "")
	require.NoError(t, err)
	require.NoError(t, p.WaitForClients(ctx, 1))

	p.Stop()
	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF, "stream ends cleanly")
	assert.False(t, p.Publish(testBatch(t)))
	assert.ErrorIs(t, p.Sink().Deliver(ctx, testBatch(t)), ErrNotRunning)
}

func TestPublisher_StopFlushesQueuedBatches(t *testing.T) {
	p, conn := startPublisher(t, DefaultConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, conn, "trainer")
	require.NoError(t, err)
	require.NoError(t, p.WaitForClients(ctx, 1))

	const n = 6
	sink := p.Sink()
	for i := 0; i < n; i++ {
		require.NoError(t, sink.Deliver(ctx, testBatch(t)))
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	for i := 0; i < n; i++ {
		msg, err := sub.Recv()
		require.NoError(t, err, "batch %d", i+1)
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-stopped:
	case <-ctx.Done():
		t.Fatal("Stop did not return after the flush")
	}
	stats := p.Stats()
	assert.Equal(t, uint64(n), stats.Published)
	assert.Zero(t, stats.Dropped)
}

func TestPublisher_DeliverWaitsForSubscriber(t *testing.T) {
	p, conn := startPublisher(t, DefaultConfig(), nil)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	err := p.Deliver(short, testBatch(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, p.Stats().Published, "nothing queued without a subscriber")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	delivered := make(chan error, 1)
	go func() { delivered <- p.Deliver(ctx, testBatch(t)) }()

	sub, err := Subscribe(ctx, conn, "late")
	require.NoError(t, err)
	require.NoError(t, <-delivered)
	msg, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Seq)
}

func TestPublisher_DeliverAppliesBackpressure(t *testing.T) {
	p := NewPublisher(Config{ClientQueue: 1}, nil)
	// Not serving: no broadcaster drains the queue.
	p.running.Store(true)
	defer p.running.Store(false)
	p.clientCount.Store(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Deliver(ctx, testBatch(t)))
	assert.ErrorIs(t, p.Deliver(ctx, testBatch(t)), context.DeadlineExceeded)
	assert.Zero(t, p.Stats().Dropped, "a full queue waits instead of dropping")
}

func TestPublisher_CountsBatchesWithoutSubscribers(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	require.NoError(t, err)
	p := NewPublisher(DefaultConfig(), metrics)

	p.fanOut(&BatchMessage{Seq: 1, Batch: testBatch(t)})
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StreamDropped))
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(Config{ClientQueue: 1}, nil)
	// Not serving: mark running without a broadcaster so the queue fills.
	p.running.Store(true)
	defer p.running.Store(false)

	assert.True(t, p.Publish(testBatch(t)))
	assert.False(t, p.Publish(testBatch(t)))
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}
