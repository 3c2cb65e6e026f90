package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPollInterval = time.Second
	consumerBatchSize   = 256
)

type (
	PollIntervalOption valueOption[time.Duration]

	ConsumerOption interface{ applyToConsumer(*consumerOpts) }
)

// WithPollInterval sets how often a started consumer looks for new events.
func WithPollInterval(d time.Duration) PollIntervalOption { return PollIntervalOption{v: d} }

func (o LogOption) applyToConsumer(c *consumerOpts)          { c.log = o.v }
func (o MetricsOption) applyToConsumer(c *consumerOpts)      { c.metrics = o.v }
func (o PollIntervalOption) applyToConsumer(c *consumerOpts) { c.interval = o.v }

type consumerOpts struct {
	log      *slog.Logger
	metrics  Metrics
	interval time.Duration
}

// Consumer feeds a subscriber from the durable log of a StreamReader. It
// keeps the sequence of the last envelope it delivered, so every envelope is
// handed over once and in log order.
type Consumer struct {
	name     string
	reader   StreamReader
	decoder  Decoder
	handler  Subscriber
	log      *slog.Logger
	metrics  Metrics
	interval time.Duration

	mu      sync.Mutex // one pass at a time
	lastSeq atomic.Uint64

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewConsumer(name string, reader StreamReader, decoder Decoder, handler Subscriber, opts ...ConsumerOption) *Consumer {
	options := consumerOpts{log: slog.Default(), metrics: NopMetrics(), interval: defaultPollInterval}
	for _, opt := range opts {
		opt.applyToConsumer(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}
	if options.interval <= 0 {
		options.interval = defaultPollInterval
	}
	return &Consumer{
		name:     name,
		reader:   reader,
		decoder:  decoder,
		handler:  handler,
		log:      options.log.With(slog.String("consumer", name)),
		metrics:  options.metrics,
		interval: options.interval,
	}
}

// LastSeq is the sequence of the last envelope delivered.
func (c *Consumer) LastSeq() uint64 { return c.lastSeq.Load() }

// CatchUp delivers everything after LastSeq until the end of the log and
// returns the number of envelopes it delivered.
func (c *Consumer) CatchUp(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for {
		envs, err := c.reader.ReadFrom(ctx, c.lastSeq.Load(), consumerBatchSize)
		if err != nil {
			return n, fmt.Errorf("consumer %s: read after %d: %w", c.name, c.lastSeq.Load(), err)
		}
		if len(envs) == 0 {
			return n, nil
		}
		for _, env := range envs {
			c.deliver(ctx, env)
			c.lastSeq.Store(env.Seq)
			n++
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, env Envelope) {
	ev, err := c.decoder.Decode(env)
	if err != nil {
		c.log.Error("decode failed", env.logAttrs(), slog.Any("error", err))
		c.metrics.EventDelivered(env.Type, false)
		return
	}
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.handler.HandleEvent(ctx, env, ev)
	}()
	if err != nil {
		c.log.Error("handler failed", env.logAttrs(), slog.Any("error", err))
	}
	c.metrics.EventDelivered(env.Type, err == nil)
}

// Start catches up with the log, then keeps following it in the background
// until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	n, err := c.CatchUp(ctx)
	if err != nil {
		return err
	}
	c.log.Info("caught up", slog.Int("delivered", n), slog.Uint64("last_seq", c.LastSeq()))

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.CatchUp(ctx); err != nil && ctx.Err() == nil {
					c.log.Warn("follow failed", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

// Stop ends following and waits for the current pass to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.done
	})
}
