package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codewandler/chargebridge/core/perkey"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrRouterClosed   = errors.New("router closed")
)

const defaultMaxRetries = 3

type (
	// Command is a request to change one aggregate. Validate runs before the
	// command is queued, so a malformed command never touches the store.
	Command interface {
		CommandType() string
		AggregateID() string
		Validate() error
	}

	// MetaCarrier is implemented by commands that carry correlation metadata.
	// The metadata is copied onto every event the command produces.
	MetaCarrier interface {
		Meta() map[string]string
	}

	// Decision is what a command handler decided: the events to append and an
	// optional reply for the caller. No events means nothing is written.
	Decision struct {
		Events []Event
		Reply  any
	}

	// Result describes a completed dispatch.
	Result[S State] struct {
		AggregateID string
		Version     Version
		State       S
		Events      []Event
		Envelopes   []Envelope
		Reply       any
	}

	// CommandHandler decides on a command given the current state. It must not
	// mutate state and must not perform I/O other than through ctx-bound reads.
	CommandHandler[S State] func(ctx context.Context, state S, cmd Command) (Decision, error)

	RouterOptions[S State] struct {
		// AggregateType names the streams this router owns.
		AggregateType string
		// New returns a fresh, empty state to fold into.
		New        func() S
		Repository *Repository
		// Bus is optional; when set, appended events are published to it.
		Bus *Bus
		// MaxRetries bounds re-runs after a concurrency conflict (default 3).
		MaxRetries int
		Log        *slog.Logger
		Metrics    Metrics
	}
)

// Router dispatches commands to their handlers. Commands for the same
// aggregate id are processed one at a time in arrival order; commands for
// different ids run in parallel.
type Router[S State] struct {
	aggType    string
	newState   func() S
	repo       *Repository
	bus        *Bus
	maxRetries int
	log        *slog.Logger
	metrics    Metrics
	sched      *perkey.Scheduler[string]

	mu       sync.RWMutex
	handlers map[string]CommandHandler[S]
}

func NewRouter[S State](opts RouterOptions[S]) (*Router[S], error) {
	if opts.AggregateType == "" {
		return nil, errors.New("router: aggregate type is empty")
	}
	if opts.New == nil {
		return nil, errors.New("router: state constructor is nil")
	}
	if opts.Repository == nil {
		return nil, errors.New("router: repository is nil")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	return &Router[S]{
		aggType:    opts.AggregateType,
		newState:   opts.New,
		repo:       opts.Repository,
		bus:        opts.Bus,
		maxRetries: opts.MaxRetries,
		log:        opts.Log.With(slog.String("router", opts.AggregateType)),
		metrics:    opts.Metrics,
		sched:      perkey.New[string](),
		handlers:   map[string]CommandHandler[S]{},
	}, nil
}

// Handle registers h for cmdType, replacing any previous handler.
func (r *Router[S]) Handle(cmdType string, h CommandHandler[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmdType] = h
}

// On registers a handler typed on the concrete command.
func On[S State, C Command](r *Router[S], cmdType string, fn func(ctx context.Context, state S, cmd C) (Decision, error)) {
	r.Handle(cmdType, func(ctx context.Context, state S, cmd Command) (Decision, error) {
		c, ok := cmd.(C)
		if !ok {
			return Decision{}, fmt.Errorf("%w: %s carries %T", ErrUnknownCommand, cmdType, cmd)
		}
		return fn(ctx, state, c)
	})
}

// CommandTypes returns the registered command types.
func (r *Router[S]) CommandTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch validates cmd, then loads, decides, appends and publishes inside
// the serialized section of the command's aggregate.
func (r *Router[S]) Dispatch(ctx context.Context, cmd Command) (Result[S], error) {
	if cmd == nil {
		return Result[S]{}, errors.New("command is nil")
	}
	cmdType := cmd.CommandType()
	if err := cmd.Validate(); err != nil {
		r.metrics.CommandDispatched(cmdType, false)
		return Result[S]{}, err
	}

	r.mu.RLock()
	h, ok := r.handlers[cmdType]
	r.mu.RUnlock()
	if !ok {
		r.metrics.CommandDispatched(cmdType, false)
		return Result[S]{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmdType)
	}

	aggID := cmd.AggregateID()
	if aggID == "" {
		r.metrics.CommandDispatched(cmdType, false)
		return Result[S]{}, errors.New("command aggregate id is empty")
	}

	timer := r.metrics.DispatchDuration(cmdType)
	defer timer.ObserveDuration()

	var res Result[S]
	err := r.sched.DoContext(ctx, aggID, func() error {
		var err error
		for attempt := 0; ; attempt++ {
			res, err = r.dispatchOnce(ctx, h, cmd, aggID)
			if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
				return err
			}
			r.metrics.ConcurrencyConflict(r.aggType)
			if attempt >= r.maxRetries {
				return fmt.Errorf("%s gave up after %d retries: %w", cmdType, attempt, err)
			}
			r.log.Debug(
				"retry after conflict",
				slog.String("command", cmdType),
				slog.String("aggregate_id", aggID),
				slog.Int("attempt", attempt+1),
			)
		}
	})
	if errors.Is(err, perkey.ErrSchedulerClosed) {
		err = ErrRouterClosed
	}
	r.metrics.CommandDispatched(cmdType, err == nil)
	if err != nil {
		return Result[S]{}, err
	}
	return res, nil
}

func (r *Router[S]) dispatchOnce(ctx context.Context, h CommandHandler[S], cmd Command, aggID string) (Result[S], error) {
	state := r.newState()
	version, err := r.repo.Load(ctx, r.aggType, aggID, state)
	if err != nil {
		return Result[S]{}, err
	}

	decision, err := h(ctx, state, cmd)
	if err != nil {
		return Result[S]{}, err
	}

	res := Result[S]{
		AggregateID: aggID,
		Version:     version,
		State:       state,
		Reply:       decision.Reply,
	}
	if len(decision.Events) == 0 {
		return res, nil
	}

	for _, ev := range decision.Events {
		if err := state.Apply(ev); err != nil {
			return Result[S]{}, fmt.Errorf("apply %s: %w", ev.EventType(), err)
		}
	}

	envs, err := r.repo.Save(ctx, r.aggType, aggID, version, commandMeta(cmd), decision.Events)
	if err != nil {
		return Result[S]{}, err
	}

	// publish while still serialized so delivery order matches stream order
	if r.bus != nil {
		r.bus.Publish(envs, decision.Events)
	}

	res.Version = envs[len(envs)-1].Version
	res.Events = decision.Events
	res.Envelopes = envs
	return res, nil
}

// Close stops accepting commands and waits for queued ones to finish.
func (r *Router[S]) Close() {
	r.sched.Close()
}

func commandMeta(cmd Command) map[string]string {
	meta := map[string]string{}
	if mc, ok := cmd.(MetaCarrier); ok {
		for k, v := range mc.Meta() {
			if v != "" {
				meta[k] = v
			}
		}
	}
	meta[MetaCommand] = cmd.CommandType()
	return meta
}
