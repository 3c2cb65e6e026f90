package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/chargebridge/core/es"
)

const (
	defaultSubjectPrefix = "chargebridge.es"
	defaultStreamName    = "CHARGEBRIDGE_ES"
)

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix used to store events
	StreamName    string

	// Optional stream limits; zero means unlimited.
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64
}

// EventStore keeps one subject per aggregate in a JetStream stream. Each
// append is one message holding all of its events, so an append is stored
// whole or not at all. The expected version is enforced by the server
// through the expected last subject sequence of each publish.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	// 0 means unlimited for age, -1 for bytes and messages
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	maxMsgs := cfg.MaxMsgs
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  maxBytes,
		MaxMsgs:   maxMsgs,
		FirstSeq:  1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo.Config.Name), slog.Uint64("msgs", streamInfo.State.Msgs))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(ctx context.Context, aggType string, aggID string) (loadedEvents []es.Envelope, err error) {
	subj, err := e.subjectForAggregate(aggType, aggID)
	if err != nil {
		return nil, err
	}

	startAt := time.Now()
	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
				slog.Int("count", len(loadedEvents)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	mre, err := e.getMostRecentEvent(ctx, subj)
	if err != nil {
		return nil, err
	}
	if mre == nil {
		// nothing stored yet
		return []es.Envelope{}, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, err
	}
	return e.consumeEvents(ctx, cc, mre.Seq, 0)
}

// ReadFrom reads the commits of every aggregate after afterSeq. The
// envelopes of one commit share its stream sequence and are never split.
func (e *EventStore) ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.State.LastSeq <= afterSeq {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    afterSeq + 1,
		FilterSubjects: []string{e.subjectPrefix + ".>"},
	})
	if err != nil {
		return nil, err
	}
	return e.consumeEvents(ctx, cc, info.State.LastSeq, limit)
}

// consumeEvents reads commits until endSeq, or until at least limit
// envelopes were read when limit is positive.
func (e *EventStore) consumeEvents(ctx context.Context, cc jetstream.Consumer, endSeq uint64, limit int) ([]es.Envelope, error) {
	var loadedEvents []es.Envelope

outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			envs, seq, err := e.decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}
			loadedEvents = append(loadedEvents, envs...)

			if seq >= endSeq || (limit > 0 && len(loadedEvents) >= limit) {
				break outer
			}
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}
		if empty {
			break
		}
	}

	return loadedEvents, nil
}

// Append stores all events as one commit message. The publish carries the
// subject sequence it expects to follow, so a concurrent writer makes it
// fail with a wrong last sequence error and nothing is stored.
func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	subj, err := e.subjectForAggregate(aggType, aggID)
	if err != nil {
		return nil, err
	}
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("failed to validate event: %w", err)
		}
		if ev.AggregateType != aggType || ev.AggregateID != aggID {
			return nil, fmt.Errorf("event %s belongs to %s/%s, not %s/%s", ev.ID, ev.AggregateType, ev.AggregateID, aggType, aggID)
		}
		if ev.Version != expectedVersion+es.Version(i+1) {
			return nil, fmt.Errorf("event %s: version %d does not follow %d", ev.ID, ev.Version, expectedVersion+es.Version(i))
		}
	}

	mre, err := e.getMostRecentEvent(ctx, subj)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	var (
		currentVersion es.Version
		lastSeq        uint64
	)
	if mre != nil {
		currentVersion, lastSeq = mre.Version, mre.Seq
	}
	if currentVersion != expectedVersion {
		return nil, conflict(aggType, aggID, expectedVersion, currentVersion)
	}

	seq, err := e.publish(ctx, subj, aggType, events, lastSeq)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return nil, conflict(aggType, aggID, expectedVersion, currentVersion)
		}
		return nil, err
	}

	return &es.StoreAppendResult{Seqs: slices.Repeat([]uint64{seq}, len(events)), LastSeq: seq}, nil
}

func conflict(aggType, aggID string, expected, got es.Version) error {
	return fmt.Errorf(
		"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
		es.ErrConcurrencyConflict, expected, got, aggType, aggID,
	)
}

func (e *EventStore) publish(ctx context.Context, subject, aggType string, events []es.Envelope, expectSeq uint64) (uint64, error) {
	first, last := events[0], events[len(events)-1]

	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-aggregate-type", aggType)
	msg.Header.Set("x-aggregate-id", first.AggregateID)
	msg.Header.Set("x-event-count", strconv.Itoa(len(events)))
	msg.Header.Set("x-last-version", strconv.FormatUint(last.Version.Uint64(), 10))
	for _, ev := range events {
		msg.Header.Add("x-event-type", ev.Type)
	}
	if token := first.MetaValue(es.MetaCorrelationToken); token != "" {
		msg.Header.Set("x-correlation-token", token)
	}

	var err error
	msg.Data, err = json.Marshal(events)
	if err != nil {
		return 0, err
	}

	ack, err := e.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(first.ID),
		jetstream.WithExpectLastSequencePerSubject(expectSeq),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append to subject %s: %w", subject, err)
	}
	return ack.Sequence, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func (e *EventStore) decodeMsg(msg jetstream.Msg) ([]es.Envelope, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, err
	}
	envs, err := decodeCommit(msg.Data(), md.Sequence.Stream)
	if err != nil {
		return nil, 0, err
	}
	return envs, md.Sequence.Stream, nil
}

func decodeCommit(data []byte, seq uint64) ([]es.Envelope, error) {
	var envs []es.Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("commit %d is empty", seq)
	}
	for i := range envs {
		envs[i].Seq = seq
	}
	return envs, nil
}

// getMostRecentEvent returns the last event of the last commit on subject,
// or nil when the subject is empty.
func (e *EventStore) getMostRecentEvent(ctx context.Context, subject string) (*es.Envelope, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	envs, err := decodeCommit(lm.Data, lm.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal last message for subject %q: %w", subject, err)
	}
	return &envs[len(envs)-1], nil
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.StreamReader = (*EventStore)(nil)
)

// --- helpers ---

func (e *EventStore) subjectForAggregate(aggregateType, aggregateID string) (string, error) {
	if aggregateType == "" {
		return "", errors.New("aggregate type is empty")
	}
	if aggregateID == "" {
		return "", errors.New("aggregate id is empty")
	}
	return e.subjectPrefix + "." + subjectToken(aggregateType) + "." + subjectToken(aggregateID), nil
}
