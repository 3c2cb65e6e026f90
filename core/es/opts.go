package es

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDGenerator is a function that generates unique IDs for events.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	valueOption[T any] struct{ v T }

	LogOption         valueOption[*slog.Logger]
	MetricsOption     valueOption[Metrics]
	IDGeneratorOption valueOption[IDGenerator]

	RepositoryOption interface{ applyToRepository(*repoOpts) }
	BusOption        interface{ applyToBus(*busOpts) }
)

func WithLog(l *slog.Logger) LogOption                  { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption               { return MetricsOption{v: m} }
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }

func (o LogOption) applyToRepository(r *repoOpts)         { r.log = o.v }
func (o MetricsOption) applyToRepository(r *repoOpts)     { r.metrics = o.v }
func (o IDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }

func (o LogOption) applyToBus(b *busOpts)     { b.log = o.v }
func (o MetricsOption) applyToBus(b *busOpts) { b.metrics = o.v }

type repoOpts struct {
	log         *slog.Logger
	metrics     Metrics
	idGenerator IDGenerator
}

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		log:         slog.Default(),
		metrics:     NopMetrics(),
		idGenerator: DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}
	return options
}

type busOpts struct {
	log     *slog.Logger
	metrics Metrics
}

func newBusOpts(opts ...BusOption) busOpts {
	options := busOpts{log: slog.Default(), metrics: NopMetrics()}
	for _, opt := range opts {
		opt.applyToBus(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}
	return options
}
