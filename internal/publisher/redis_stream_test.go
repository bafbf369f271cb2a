package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/catalog"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/reconciliation"
)

type fakeStream struct {
	mu   sync.Mutex
	adds []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, a)
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func (f *fakeStream) snapshot() []*redis.XAddArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*redis.XAddArgs(nil), f.adds...)
}

func newPublisher(client StreamClient) *RedisStreamPublisher {
	p := NewRedisStreamPublisher(client, logging.NewNop())
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return p
}

func TestPublishCollection(t *testing.T) {
	fake := &fakeStream{}
	p := newPublisher(fake)
	res := &collector.Result{
		Spec:  collector.JobSpec{Season: 2025, League: catalog.J1, Team: "shimizu"},
		Teams: []string{"shimizu"},
		Table: &reconciliation.Table{
			Header:  []string{"選手URL", "選手名", "チーム名", "得点（点）"},
			Columns: []string{"score"},
			Rows:    []reconciliation.TableRow{{PlayerName: "北川 航也", TeamName: "清水", Values: []string{"11"}}},
		},
		RunID: 7,
	}

	require.NoError(t, p.Write(context.Background(), res))

	adds := fake.snapshot()
	require.Len(t, adds, 1)
	assert.Equal(t, CollectionsStream, adds[0].Stream)
	assert.True(t, adds[0].Approx)
	values := adds[0].Values.(map[string]interface{})
	assert.Equal(t, int64(1700000000), values["timestamp"])

	var msg CollectionMessage
	require.NoError(t, sonic.UnmarshalString(values["data"].(string), &msg))
	assert.Equal(t, 1, msg.Players)
	assert.Equal(t, int64(7), msg.RunID)
	assert.Equal(t, [][]string{{"", "北川 航也", "清水", "11"}}, msg.Rows)
}

func TestPublishCollectionError(t *testing.T) {
	p := newPublisher(&fakeStream{err: errors.New("connection refused")})
	err := p.PublishCollection(context.Background(), &collector.Result{Spec: collector.JobSpec{Season: 2025, League: catalog.J2, Team: "all"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "j2/2025/all")
}

func TestListenerForwardsEvents(t *testing.T) {
	fake := &fakeStream{}
	p := newPublisher(fake)
	p.Run(context.Background())

	listener := p.Listener()
	listener(collector.Event{JobID: "job-1", Type: "progress", Current: 1, Total: 5})
	listener(collector.Event{JobID: "job-1", Type: "completed", Rows: 2})
	p.Close()

	adds := fake.snapshot()
	require.Len(t, adds, 2)
	for _, a := range adds {
		assert.Equal(t, JobEventsStream, a.Stream)
	}
	var ev collector.Event
	require.NoError(t, sonic.UnmarshalString(adds[1].Values.(map[string]interface{})["data"].(string), &ev))
	assert.Equal(t, "completed", ev.Type)
	assert.Equal(t, 2, ev.Rows)
}
