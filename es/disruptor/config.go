package disruptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/eventbus"
	"github.com/getpup/pupcommand/es/ringbuffer"
	"github.com/getpup/pupcommand/es/serializer"
	"github.com/getpup/pupcommand/es/txn"
)

// ErrInvalidConfiguration wraps every Validate failure.
var ErrInvalidConfiguration = errors.New("invalid command bus configuration")

// Configuration contains the settings of a CommandBus.
// Configuration is immutable once the bus is created.
type Configuration struct {
	// Cache is the cache shared by all invokers. Defaults to cache.NoCache.
	Cache cache.Cache

	// TargetResolver finds the aggregate a command addresses. It is used for
	// routing and for optimistic version checks.
	TargetResolver command.TargetResolver

	// RollbackPolicy decides which handler errors roll the unit of work back.
	RollbackPolicy RollbackPolicy

	// Serializer is used by the serializer stage. Required when PreSerialization is set.
	Serializer serializer.Serializer

	// TransactionManager, when set, wraps storing and publishing in a transaction.
	TransactionManager txn.TransactionManager

	// Executor runs callbacks and reschedules. If nil, the bus owns a PoolExecutor
	// of ExecutorConcurrency goroutines and shuts it down on Stop.
	Executor Executor

	// EventBus receives committed events. Optional.
	EventBus eventbus.EventBus

	// WaitStrategy decides how pipeline goroutines wait for work.
	WaitStrategy ringbuffer.WaitStrategy

	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	SerializedRepresentation string

	DispatchInterceptors    []command.DispatchInterceptor
	InvocationInterceptors  []command.HandlerInterceptor
	PublicationInterceptors []command.HandlerInterceptor

	// BufferSize is the number of ring buffer slots. Must be a power of two.
	BufferSize int

	ProducerType ringbuffer.ProducerType

	InvokerThreadCount    int
	SerializerThreadCount int
	PublisherThreadCount  int

	// CoolingDownPeriod is how often Stop checks whether the pipeline drained.
	CoolingDownPeriod time.Duration

	// FirstLevelCacheSize bounds the per-invoker aggregate cache of each repository.
	FirstLevelCacheSize int

	// ExecutorConcurrency sizes the owned executor.
	ExecutorConcurrency int64

	// RescheduleCommandsOnCorruptState retries commands rejected on a blacklisted
	// aggregate instead of failing them.
	RescheduleCommandsOnCorruptState bool

	// PreSerialization enables the serializer stage.
	PreSerialization bool
}

// DefaultConfiguration returns the default configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		Cache:                    cache.NoCache{},
		TargetResolver:           command.PayloadTargetResolver{},
		RollbackPolicy:           RollbackOnUncheckedErrors,
		WaitStrategy:             ringbuffer.NewBlockingWaitStrategy(),
		SerializedRepresentation: serializer.JSON,
		BufferSize:               4096,
		ProducerType:             ringbuffer.MultiProducer,
		InvokerThreadCount:       1,
		SerializerThreadCount:    1,
		PublisherThreadCount:     1,
		CoolingDownPeriod:        time.Second,
		FirstLevelCacheSize:      1024,
		ExecutorConcurrency:      64,
	}
}

// Option is a functional option for configuring a CommandBus.
type Option func(*Configuration)

// NewConfiguration returns the default configuration with opts applied.
func NewConfiguration(opts ...Option) Configuration {
	c := DefaultConfiguration()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithBufferSize sets the ring buffer size.
func WithBufferSize(size int) Option {
	return func(c *Configuration) {
		c.BufferSize = size
	}
}

// WithProducerType sets the producer type. Use SingleProducer only when a single
// goroutine dispatches.
func WithProducerType(t ringbuffer.ProducerType) Option {
	return func(c *Configuration) {
		c.ProducerType = t
	}
}

// WithWaitStrategy sets the wait strategy.
func WithWaitStrategy(ws ringbuffer.WaitStrategy) Option {
	return func(c *Configuration) {
		c.WaitStrategy = ws
	}
}

// WithThreadCounts sets the number of invokers, serializers and publishers.
func WithThreadCounts(invokers, serializers, publishers int) Option {
	return func(c *Configuration) {
		c.InvokerThreadCount = invokers
		c.SerializerThreadCount = serializers
		c.PublisherThreadCount = publishers
	}
}

// WithCoolingDownPeriod sets the drain polling interval used by Stop.
func WithCoolingDownPeriod(d time.Duration) Option {
	return func(c *Configuration) {
		c.CoolingDownPeriod = d
	}
}

// WithRescheduleCommandsOnCorruptState enables retries of commands rejected on a blacklisted aggregate.
func WithRescheduleCommandsOnCorruptState(enabled bool) Option {
	return func(c *Configuration) {
		c.RescheduleCommandsOnCorruptState = enabled
	}
}

// WithCache sets the shared cache.
func WithCache(cc cache.Cache) Option {
	return func(c *Configuration) {
		c.Cache = cc
	}
}

// WithFirstLevelCacheSize sets the per-invoker repository cache size.
func WithFirstLevelCacheSize(size int) Option {
	return func(c *Configuration) {
		c.FirstLevelCacheSize = size
	}
}

// WithTargetResolver sets the target resolver.
func WithTargetResolver(r command.TargetResolver) Option {
	return func(c *Configuration) {
		c.TargetResolver = r
	}
}

// WithRollbackPolicy sets the rollback policy.
func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(c *Configuration) {
		c.RollbackPolicy = p
	}
}

// WithPreSerialization enables the serializer stage for representation.
func WithPreSerialization(s serializer.Serializer, representation string) Option {
	return func(c *Configuration) {
		c.PreSerialization = true
		c.Serializer = s
		c.SerializedRepresentation = representation
	}
}

// WithTransactionManager sets the transaction manager.
func WithTransactionManager(tm txn.TransactionManager) Option {
	return func(c *Configuration) {
		c.TransactionManager = tm
	}
}

// WithExecutor sets the executor. The bus does not shut down executors it did not create.
func WithExecutor(e Executor) Option {
	return func(c *Configuration) {
		c.Executor = e
	}
}

// WithEventBus sets the event bus.
func WithEventBus(b eventbus.EventBus) Option {
	return func(c *Configuration) {
		c.EventBus = b
	}
}

// WithDispatchInterceptors appends dispatch interceptors.
func WithDispatchInterceptors(interceptors ...command.DispatchInterceptor) Option {
	return func(c *Configuration) {
		c.DispatchInterceptors = append(c.DispatchInterceptors, interceptors...)
	}
}

// WithInvocationInterceptors appends interceptors run around the handler on the invoker.
func WithInvocationInterceptors(interceptors ...command.HandlerInterceptor) Option {
	return func(c *Configuration) {
		c.InvocationInterceptors = append(c.InvocationInterceptors, interceptors...)
	}
}

// WithPublicationInterceptors appends interceptors run on the publisher before commit.
func WithPublicationInterceptors(interceptors ...command.HandlerInterceptor) Option {
	return func(c *Configuration) {
		c.PublicationInterceptors = append(c.PublicationInterceptors, interceptors...)
	}
}

// WithLogger sets a logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Configuration) {
		c.Logger = logger
	}
}

// Validate reports the first invalid setting.
func (c *Configuration) Validate() error {
	switch {
	case c.BufferSize <= 0 || c.BufferSize&(c.BufferSize-1) != 0:
		return fmt.Errorf("%w: buffer size %d is not a positive power of two", ErrInvalidConfiguration, c.BufferSize)
	case c.InvokerThreadCount < 1:
		return fmt.Errorf("%w: invoker thread count must be at least 1", ErrInvalidConfiguration)
	case c.PublisherThreadCount < 1:
		return fmt.Errorf("%w: publisher thread count must be at least 1", ErrInvalidConfiguration)
	case c.SerializerThreadCount < 0:
		return fmt.Errorf("%w: serializer thread count must not be negative", ErrInvalidConfiguration)
	case c.CoolingDownPeriod <= 0:
		return fmt.Errorf("%w: cooling down period must be positive", ErrInvalidConfiguration)
	case c.FirstLevelCacheSize < 1:
		return fmt.Errorf("%w: first level cache size must be at least 1", ErrInvalidConfiguration)
	case c.PreSerialization && c.Serializer == nil:
		return fmt.Errorf("%w: pre-serialization requires a serializer", ErrInvalidConfiguration)
	case c.PreSerialization && c.SerializedRepresentation == "":
		return fmt.Errorf("%w: pre-serialization requires a representation", ErrInvalidConfiguration)
	}
	return nil
}

// normalize fills nil collaborators with their defaults.
func (c *Configuration) normalize() {
	d := DefaultConfiguration()
	if c.Cache == nil {
		c.Cache = d.Cache
	}
	if c.TargetResolver == nil {
		c.TargetResolver = d.TargetResolver
	}
	if c.RollbackPolicy == nil {
		c.RollbackPolicy = d.RollbackPolicy
	}
	if c.WaitStrategy == nil {
		c.WaitStrategy = d.WaitStrategy
	}
	c.Logger = es.LoggerOrNoOp(c.Logger)
}

// serializerStageEnabled reports whether the pipeline gets a serializer stage.
func (c *Configuration) serializerStageEnabled() bool {
	return c.PreSerialization && c.Serializer != nil && c.SerializerThreadCount > 0
}

// FileConfig is the YAML form of the scalar settings of a Configuration.
// Unset fields keep the value already in the Configuration.
type FileConfig struct {
	BufferSize               *int              `yaml:"buffer_size,omitempty"`
	ProducerType             string            `yaml:"producer_type,omitempty"`    // "single" or "multi"
	WaitStrategy             string            `yaml:"wait_strategy,omitempty"`    // blocking, busy-spin, sleeping, yielding
	InvokerThreads           *int              `yaml:"invoker_threads,omitempty"`
	SerializerThreads        *int              `yaml:"serializer_threads,omitempty"`
	PublisherThreads         *int              `yaml:"publisher_threads,omitempty"`
	CoolingDownPeriod        string            `yaml:"cooling_down_period,omitempty"` // time.ParseDuration format
	RescheduleOnCorruptState *bool             `yaml:"reschedule_on_corrupt_state,omitempty"`
	FirstLevelCacheSize      *int              `yaml:"first_level_cache_size,omitempty"`
	ExecutorConcurrency      *int64            `yaml:"executor_concurrency,omitempty"`
	PreSerialization         *PreSerialization `yaml:"pre_serialization,omitempty"`
}

// PreSerialization configures the serializer stage in a FileConfig.
type PreSerialization struct {
	Enabled        bool   `yaml:"enabled"`
	Representation string `yaml:"representation,omitempty"`
}

// LoadFileConfig reads a YAML configuration file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFileConfig(data)
}

// ParseFileConfig parses YAML configuration. Unknown keys are rejected.
func ParseFileConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &fc, nil
}

// ApplyTo copies the settings present in fc onto c.
func (fc *FileConfig) ApplyTo(c *Configuration) error {
	if fc.BufferSize != nil {
		c.BufferSize = *fc.BufferSize
	}
	if fc.ProducerType != "" {
		pt, err := ringbuffer.ParseProducerType(fc.ProducerType)
		if err != nil {
			return err
		}
		c.ProducerType = pt
	}
	if fc.WaitStrategy != "" {
		ws, err := ringbuffer.NewWaitStrategy(ringbuffer.WaitStrategyType(fc.WaitStrategy))
		if err != nil {
			return err
		}
		c.WaitStrategy = ws
	}
	if fc.InvokerThreads != nil {
		c.InvokerThreadCount = *fc.InvokerThreads
	}
	if fc.SerializerThreads != nil {
		c.SerializerThreadCount = *fc.SerializerThreads
	}
	if fc.PublisherThreads != nil {
		c.PublisherThreadCount = *fc.PublisherThreads
	}
	if fc.CoolingDownPeriod != "" {
		d, err := time.ParseDuration(fc.CoolingDownPeriod)
		if err != nil {
			return fmt.Errorf("invalid cooling_down_period: %w", err)
		}
		c.CoolingDownPeriod = d
	}
	if fc.RescheduleOnCorruptState != nil {
		c.RescheduleCommandsOnCorruptState = *fc.RescheduleOnCorruptState
	}
	if fc.FirstLevelCacheSize != nil {
		c.FirstLevelCacheSize = *fc.FirstLevelCacheSize
	}
	if fc.ExecutorConcurrency != nil {
		c.ExecutorConcurrency = *fc.ExecutorConcurrency
	}
	if fc.PreSerialization != nil {
		c.PreSerialization = fc.PreSerialization.Enabled
		if fc.PreSerialization.Representation != "" {
			c.SerializedRepresentation = fc.PreSerialization.Representation
		}
	}
	return nil
}
