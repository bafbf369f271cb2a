package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
)

// Stream names.
const (
	CollectionsStream = "jstats.collections.completed"
	JobEventsStream   = "jstats.jobs.events"
)

// DefaultMaxLen caps each stream (approximate trimming).
const DefaultMaxLen = 10000

// StreamClient is the subset of redis.Client the publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// CollectionMessage is the payload published for a finished collection.
type CollectionMessage struct {
	Season        int        `json:"season"`
	League        string     `json:"league"`
	Team          string     `json:"team"`
	Teams         []string   `json:"teams"`
	Players       int        `json:"players"`
	Fetches       int        `json:"fetches"`
	FetchFailures int        `json:"fetch_failures"`
	RunID         int64      `json:"run_id,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	Header        []string   `json:"header"`
	Rows          [][]string `json:"rows"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// NewCollectionMessage flattens a result into its stream payload.
func NewCollectionMessage(res *collector.Result) CollectionMessage {
	msg := CollectionMessage{
		Season:        res.Spec.Season,
		League:        string(res.Spec.League),
		Team:          res.Spec.Team,
		Teams:         res.Teams,
		Fetches:       res.Metrics.Fetches,
		FetchFailures: res.Metrics.FetchFailures,
		RunID:         res.RunID,
		OutputPath:    res.OutputPath,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if res.Table != nil {
		msg.Players = res.Table.Len()
		msg.Header = res.Table.Header
		msg.Rows = res.Table.Records()
	}
	return msg
}

// RedisStreamPublisher publishes collection results and job events to Redis streams
type RedisStreamPublisher struct {
	client StreamClient
	maxLen int64
	now    func() time.Time
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
	events chan collector.Event
	wg     sync.WaitGroup
}

var _ collector.Sink = (*RedisStreamPublisher)(nil)

// NewRedisStreamPublisher creates a new Redis stream publisher from existing client
func NewRedisStreamPublisher(client StreamClient, logger *logging.Logger) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client: client,
		maxLen: DefaultMaxLen,
		now:    time.Now,
		logger: logging.OrDefault(logger).Named("publisher"),
		events: make(chan collector.Event, 256),
	}
}

// Write publishes a finished collection. It implements collector.Sink.
func (p *RedisStreamPublisher) Write(ctx context.Context, res *collector.Result) error {
	return p.PublishCollection(ctx, res)
}

// PublishCollection publishes a finished collection to CollectionsStream.
func (p *RedisStreamPublisher) PublishCollection(ctx context.Context, res *collector.Result) error {
	if err := p.publish(ctx, CollectionsStream, NewCollectionMessage(res)); err != nil {
		return errors.Wrapf(err, "publish collection %s/%d/%s", res.Spec.League, res.Spec.Season, res.Spec.Team)
	}
	return nil
}

// PublishJobEvent publishes one job event to JobEventsStream.
func (p *RedisStreamPublisher) PublishJobEvent(ctx context.Context, ev collector.Event) error {
	return errors.Wrap(p.publish(ctx, JobEventsStream, ev), "publish job event")
}

// Listener returns a non-blocking collector.Listener that forwards events
// to the background loop started by Run. Events are dropped when the
// buffer is full.
func (p *RedisStreamPublisher) Listener() collector.Listener {
	return func(ev collector.Event) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			return
		}
		select {
		case p.events <- ev:
		default:
			p.logger.Warn("job event dropped", "job_id", ev.JobID, "type", ev.Type)
		}
	}
}

// Run forwards queued job events until ctx is done or Close is called.
func (p *RedisStreamPublisher) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.events:
				if !ok {
					return
				}
				pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				if err := p.PublishJobEvent(pubCtx, ev); err != nil {
					p.logger.Warn("job event publish failed", "job_id", ev.JobID, "error", err)
				}
				cancel()
			}
		}
	}()
}

// Close stops the forwarding loop after draining buffered events.
func (p *RedisStreamPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *RedisStreamPublisher) publish(ctx context.Context, stream string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": p.now().Unix(),
		},
	}).Err()
}
