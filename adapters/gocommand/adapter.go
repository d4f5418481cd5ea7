package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	deltacommand "github.com/juanbarco92/delta/command"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/query"
)

// QueueResolverKey names the resolver that mirrors commands into a go-job
// queue registry.
const QueueResolverKey = "queue"

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Handlers lists the delta operations a Bus exposes. Nil entries are
// skipped.
type Handlers struct {
	ExchangeCode     *deltacommand.ExchangeCodeCommand
	RunAudit         *deltacommand.RunAuditCommand
	SyncItems        *deltacommand.SyncItemsCommand
	EnqueueItemSync  *deltacommand.EnqueueItemSyncCommand
	AuthorizationURL *query.AuthorizationURLQuery
	GetItem          *query.GetItemQuery
	ListUserItems    *query.ListUserItemsQuery
}

// Bus registers delta handlers with a go-command registry and subscribes
// them to the dispatcher.
type Bus struct {
	registry      *command.Registry
	subscriptions []commanddispatcher.Subscription
}

type BusOption func(*busConfig)

type busConfig struct {
	queueRegistry *jobqueuecommand.Registry
	runnerOpts    []runner.Option
}

// WithQueueRegistry mirrors every registered command into a go-job queue
// registry so it can be scheduled as a job.
func WithQueueRegistry(registry *jobqueuecommand.Registry) BusOption {
	return func(cfg *busConfig) {
		cfg.queueRegistry = registry
	}
}

func WithRunnerOptions(opts ...runner.Option) BusOption {
	return func(cfg *busConfig) {
		cfg.runnerOpts = append(cfg.runnerOpts, opts...)
	}
}

func NewBus(handlers Handlers, opts ...BusOption) (*Bus, error) {
	cfg := busConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	bus := &Bus{registry: command.NewRegistry()}
	if cfg.queueRegistry != nil {
		if err := bus.registry.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(cfg.queueRegistry)); err != nil {
			return nil, err
		}
	}

	var err error
	if handlers.ExchangeCode != nil {
		err = firstErr(err, registerCommand[deltacommand.ExchangeCodeMessage](bus, handlers.ExchangeCode, cfg.runnerOpts))
	}
	if handlers.RunAudit != nil {
		err = firstErr(err, registerCommand[deltacommand.RunAuditMessage](bus, handlers.RunAudit, cfg.runnerOpts))
	}
	if handlers.SyncItems != nil {
		err = firstErr(err, registerCommand[deltacommand.SyncItemsMessage](bus, handlers.SyncItems, cfg.runnerOpts))
	}
	if handlers.EnqueueItemSync != nil {
		err = firstErr(err, registerCommand[deltacommand.EnqueueItemSyncMessage](bus, handlers.EnqueueItemSync, cfg.runnerOpts))
	}
	if handlers.AuthorizationURL != nil {
		err = firstErr(err, registerQuery[query.AuthorizationURLMessage, string](bus, handlers.AuthorizationURL, cfg.runnerOpts))
	}
	if handlers.GetItem != nil {
		err = firstErr(err, registerQuery[query.GetItemMessage, core.ItemDetail](bus, handlers.GetItem, cfg.runnerOpts))
	}
	if handlers.ListUserItems != nil {
		err = firstErr(err, registerQuery[query.ListUserItemsMessage, []core.ItemDetail](bus, handlers.ListUserItems, cfg.runnerOpts))
	}
	if err != nil {
		bus.Close()
		return nil, err
	}
	if err := bus.registry.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// DispatchWithResult dispatches msg and returns the value the commander
// stored. A partial result is returned alongside a command error.
func DispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	collector := command.NewResult[R]()
	err := Dispatch(command.ContextWithResult(ctx, collector), msg)
	result, _ := collector.Load()
	return result, err
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func registerCommand[T any](bus *Bus, cmd command.Commander[T], runnerOpts []runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	bus.subscriptions = append(bus.subscriptions, subscription)
	return bus.registry.RegisterCommand(cmd)
}

func registerQuery[T any, R any](bus *Bus, qry command.Querier[T, R], runnerOpts []runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	bus.subscriptions = append(bus.subscriptions, subscription)
	return bus.registry.RegisterCommand(qry)
}

func firstErr(current error, next error) error {
	if current != nil {
		return current
	}
	return next
}
