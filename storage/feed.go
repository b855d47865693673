package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"firetrack/domain"
)

var (
	errFeedSaturated = errors.New("change feed saturated")
	errFeedClosed    = errors.New("change feed closed")
)

// ChangeFeed receives committed changes. Publish must not block the write path
// for longer than a short handoff.
type ChangeFeed interface {
	Publish(ch domain.Change) error
}

// FeedConfig sizes the queue feed worker pool.
type FeedConfig struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

type sendFunc func(ctx context.Context, message string) error

// QueueFeed forwards changes to an Azure Storage queue through a bounded pool
// of workers. When the buffer is full a change is dropped after the handoff
// timeout; live subscribers are unaffected because they read pub/sub.
type QueueFeed struct {
	cfg    FeedConfig
	send   sendFunc
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.Change
	wg     sync.WaitGroup
}

// QueueClientOptions are the retry settings of the change feed queue client.
func QueueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewQueueFeed connects to queue and starts the worker pool.
func NewQueueFeed(connStr, queue string, cfg FeedConfig, logger *log.Logger) (*QueueFeed, error) {
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, QueueClientOptions())
	if err != nil {
		return nil, err
	}
	send := func(ctx context.Context, msg string) error {
		_, err := qc.EnqueueMessage(ctx, msg, nil)
		return err
	}
	return newQueueFeed(send, cfg, logger), nil
}

func newQueueFeed(send sendFunc, cfg FeedConfig, logger *log.Logger) *QueueFeed {
	if logger == nil {
		panic("storage: queue feed logger is nil")
	}
	cfg = cfg.withDefaults()
	f := &QueueFeed{cfg: cfg, send: send, logger: logger, jobs: make(chan domain.Change, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}
	logger.Infof("change feed started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.SendTimeout, cfg.HandoffTimeout)
	return f
}

func (f *QueueFeed) worker(id int) {
	defer f.wg.Done()
	for ch := range f.jobs {
		msg, err := sonic.MarshalString(ch)
		if err != nil {
			f.logger.Errorf("encode change failed, err: %v, project: %s", err, ch.ProjectID)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
		err = f.send(ctx, msg)
		cancel()
		if err != nil {
			f.logger.Errorf("enqueue change failed, err: %v, project: %s, kind: %s, worker: %d", err, ch.ProjectID, ch.Kind, id)
		}
	}
}

// Publish hands ch to a worker. It waits at most the handoff timeout for
// buffer space.
func (f *QueueFeed) Publish(ch domain.Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return errFeedClosed
	}
	select {
	case f.jobs <- ch:
		return nil
	default:
	}
	if f.cfg.HandoffTimeout <= 0 {
		return errFeedSaturated
	}
	timer := time.NewTimer(f.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case f.jobs <- ch:
		return nil
	case <-timer.C:
		return errFeedSaturated
	}
}

// Close stops accepting changes and waits for queued ones to be sent.
func (f *QueueFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.jobs)
	f.mu.Unlock()
	f.wg.Wait()
}
