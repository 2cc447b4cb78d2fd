package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/adapters/sqlite"
	"github.com/getpup/pupcommand/es/adapters/sqlstore"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/cache/rediscache"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/disruptor"
	"github.com/getpup/pupcommand/es/eventbus"
	"github.com/getpup/pupcommand/es/eventbus/redisbus"
	"github.com/getpup/pupcommand/es/interceptors"
	"github.com/getpup/pupcommand/es/logging/zaplog"
	"github.com/getpup/pupcommand/es/migrations"
	"github.com/getpup/pupcommand/es/serializer"
	"github.com/getpup/pupcommand/es/store"
	"github.com/getpup/pupcommand/es/store/memory"
	"github.com/getpup/pupcommand/es/txn"
)

type runOptions struct {
	configPath    string
	storeKind     string
	sqlitePath    string
	redisAddr     string
	logMode       string
	commands      int
	aggregates    int
	snapshotEvery int64
	timeout       time.Duration
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a ledger workload through the command bus",
		Long: `Opens --aggregates accounts, dispatches --commands deposits and withdrawals
across them, stops the bus once every command completed and verifies each
account's balance against its stored event stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runLedger(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML pipeline configuration file")
	flags.StringVar(&opts.storeKind, "store", "memory", "Event store: memory or sqlite")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "commandbus.db", "SQLite database file (with --store sqlite)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the shared aggregate cache and event fan-out")
	flags.StringVar(&opts.logMode, "log-mode", "production", "Log mode: production or development")
	flags.IntVar(&opts.commands, "commands", 1000, "Number of commands to dispatch after opening accounts")
	flags.IntVar(&opts.aggregates, "aggregates", 16, "Number of accounts")
	flags.Int64Var(&opts.snapshotEvery, "snapshot-every", 0, "Store a snapshot every N events per account (0 disables)")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall time limit")
	return cmd
}

// environment holds what runLedger builds around the bus.
type environment struct {
	store   store.EventStore
	cache   cache.Cache
	bus     eventbus.EventBus
	txm     txn.TransactionManager
	closers []func() error
}

func (e *environment) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

func runLedger(ctx context.Context, opts runOptions, out io.Writer) (err error) {
	if opts.aggregates < 1 {
		return fmt.Errorf("--aggregates must be at least 1")
	}

	logger, err := zaplog.New(opts.logMode)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	config := disruptor.DefaultConfiguration()
	config.Serializer = serializer.New(ledgerTypes())
	if opts.configPath != "" {
		fc, err := disruptor.LoadFileConfig(opts.configPath)
		if err != nil {
			return err
		}
		if err := fc.ApplyTo(&config); err != nil {
			return err
		}
	}

	factory := es.NewFactory(accountType, newAccount)
	env, err := buildEnvironment(ctx, opts, config, factory, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var published atomic.Int64
	local := eventbus.NewSimpleEventBus(logger)
	if err := local.Subscribe(eventbus.ListenerFunc("published-counter", func(context.Context, es.DomainEvent) error {
		published.Add(1)
		return nil
	})); err != nil {
		return err
	}

	invocation := []command.HandlerInterceptor{
		interceptors.NewTracingInterceptor(nil),
		interceptors.NewLoggingInterceptor(logger),
	}
	if snapshots, ok := env.store.(store.SnapshotStore); ok && opts.snapshotEvery > 0 {
		invocation = append(invocation, interceptors.NewSnapshotInterceptor(snapshots, opts.snapshotEvery, logger))
	}

	config.Cache = env.cache
	config.EventBus = eventbus.MultiBus{local, env.bus}
	config.TransactionManager = env.txm
	config.Logger = logger
	config.DispatchInterceptors = []command.DispatchInterceptor{interceptors.CorrelationDispatchInterceptor{}}
	config.InvocationInterceptors = invocation

	registry, err := ledgerRegistry()
	if err != nil {
		return err
	}
	bus, err := disruptor.NewCommandBus(env.store, registry, config, factory)
	if err != nil {
		return err
	}
	if err := bus.Start(); err != nil {
		return err
	}

	start := time.Now()
	ids := make([]string, opts.aggregates)
	for i := range ids {
		ids[i] = fmt.Sprintf("acc-%d", i)
		if _, err := bus.DispatchAndWait(ctx, command.New("OpenAccount", openAccount{ID: ids[i], Owner: fmt.Sprintf("owner-%d", i)})); err != nil {
			_ = bus.Stop(ctx)
			return fmt.Errorf("failed to open %s: %w", ids[i], err)
		}
	}

	w := newWorkload(ids)
	for i := 0; i < opts.commands; i++ {
		w.dispatch(ctx, bus, i)
	}
	w.wait()

	if err := bus.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop command bus: %w", err)
	}
	elapsed := time.Since(start)

	if err := w.verify(ctx, env.store); err != nil {
		return err
	}

	total := opts.commands + opts.aggregates
	fmt.Fprintf(out, "commands:   %d (%d succeeded, %d rejected, %d failed)\n", total, w.succeeded.Load()+int64(opts.aggregates), w.rejected.Load(), w.failed.Load())
	fmt.Fprintf(out, "events:     %d published\n", published.Load())
	fmt.Fprintf(out, "elapsed:    %s (%.0f commands/s)\n", elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "verified:   %d accounts\n", len(ids))
	if n := w.failed.Load(); n > 0 {
		return fmt.Errorf("%d commands failed, first: %w", n, w.firstFailure())
	}
	return nil
}

func buildEnvironment(ctx context.Context, opts runOptions, config disruptor.Configuration, factory es.AggregateFactory, logger es.Logger) (*environment, error) {
	env := &environment{
		cache: cache.NoCache{},
		bus:   eventbus.MultiBus{},
		txm:   txn.NoTransactionManager{},
	}

	switch opts.storeKind {
	case "memory":
		env.store = memory.NewStore()
	case "sqlite":
		db, err := sql.Open("sqlite", opts.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		env.closers = append(env.closers, db.Close)
		// A single connection serializes writers; SQLite would otherwise report busy.
		db.SetMaxOpenConns(1)

		schema := migrations.DefaultConfig()
		if _, err := db.ExecContext(ctx, migrations.SQLiteSQL(&schema)); err != nil {
			_ = env.close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		env.store = sqlite.NewStore(db,
			sqlstore.WithLogger(logger),
			sqlstore.WithSerializer(config.Serializer, config.SerializedRepresentation))
		env.txm = txn.NewSQLTransactionManager(db, nil)
	default:
		return nil, fmt.Errorf("unsupported store %q: use memory or sqlite", opts.storeKind)
	}

	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		env.closers = append(env.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = env.close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.redisAddr, err)
		}
		env.cache = rediscache.New(client, config.Serializer, []es.AggregateFactory{factory})
		env.bus = redisbus.New(client, config.Serializer, redisbus.DefaultConfig(), logger)
	}
	return env, nil
}

// workload dispatches deposits and withdrawals and tracks the balances they should produce.
type workload struct {
	expected  map[string]int
	firstErr  error
	ids       []string
	wg        sync.WaitGroup
	mu        sync.Mutex
	succeeded atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

func newWorkload(ids []string) *workload {
	return &workload{ids: ids, expected: make(map[string]int, len(ids))}
}

func (w *workload) dispatch(ctx context.Context, bus *disruptor.CommandBus, i int) {
	id := w.ids[i%len(w.ids)]
	amount := i%10 + 1

	var cmd command.Command
	delta := amount
	if i%5 == 4 {
		cmd = command.New("WithdrawMoney", withdrawMoney{ID: id, Amount: amount})
		delta = -amount
	} else {
		cmd = command.New("DepositMoney", depositMoney{ID: id, Amount: amount})
	}

	w.wg.Add(1)
	bus.Dispatch(ctx, cmd, command.CallbackFuncs{
		Success: func(command.Command, any) {
			defer w.wg.Done()
			w.succeeded.Add(1)
			w.mu.Lock()
			w.expected[id] += delta
			w.mu.Unlock()
		},
		Failure: func(_ command.Command, err error) {
			defer w.wg.Done()
			if errors.Is(err, errInsufficientFunds) {
				w.rejected.Add(1)
				return
			}
			w.failed.Add(1)
			w.mu.Lock()
			if w.firstErr == nil {
				w.firstErr = err
			}
			w.mu.Unlock()
		},
	})
}

func (w *workload) wait() {
	w.wg.Wait()
}

func (w *workload) firstFailure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}

// verify rebuilds every account from the event store and compares balances.
func (w *workload) verify(ctx context.Context, eventStore store.EventStore) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.ids {
		stream, err := eventStore.ReadEvents(ctx, accountType, id)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", id, err)
		}
		acc := newAccount(id).(*account)
		if err := es.Replay(acc, stream); err != nil {
			return fmt.Errorf("failed to rebuild %s: %w", id, err)
		}
		if acc.state.Balance != w.expected[id] {
			return fmt.Errorf("account %s: stored balance %d, expected %d", id, acc.state.Balance, w.expected[id])
		}
	}
	return nil
}
