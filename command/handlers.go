package command

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/juanbarco92/delta/audit"
	"github.com/juanbarco92/delta/core"
	itemsync "github.com/juanbarco92/delta/sync"
)

type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (core.Credential, error)
}

type Auditor interface {
	AuditOrders(ctx context.Context, limit int) (audit.Report, error)
}

type ItemSyncer interface {
	SyncUserItems(ctx context.Context, userID int64) (itemsync.SyncResult, error)
}

// SyncEnqueuer schedules an item sync to run in the background and returns
// the queued job id.
type SyncEnqueuer interface {
	EnqueueItemSync(ctx context.Context, userID int64) (string, error)
}

// ExchangeResult is what a successful code exchange reports back. Tokens
// stay in the store.
type ExchangeResult struct {
	UserID    string
	ExpiresAt time.Time
}

type AuditResult struct {
	Report     audit.Report
	ReportPath string
}

type EnqueueResult struct {
	UserID int64
	JobID  string
}

type ExchangeCodeCommand struct {
	exchanger CodeExchanger
}

func NewExchangeCodeCommand(exchanger CodeExchanger) *ExchangeCodeCommand {
	return &ExchangeCodeCommand{exchanger: exchanger}
}

func (c *ExchangeCodeCommand) Execute(ctx context.Context, msg ExchangeCodeMessage) error {
	if c == nil || c.exchanger == nil {
		return core.MissingDependency("command: code exchanger is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	cred, err := c.exchanger.ExchangeCode(ctx, strings.TrimSpace(msg.Code))
	if err != nil {
		return err
	}
	storeResult(ctx, ExchangeResult{UserID: cred.UserID, ExpiresAt: cred.ExpiresAt})
	return nil
}

type RunAuditCommand struct {
	auditor Auditor
}

func NewRunAuditCommand(auditor Auditor) *RunAuditCommand {
	return &RunAuditCommand{auditor: auditor}
}

// Execute runs the audit. A partial report is still written and stored when
// the run stops early, and the run error is returned alongside it.
func (c *RunAuditCommand) Execute(ctx context.Context, msg RunAuditMessage) error {
	if c == nil || c.auditor == nil {
		return core.MissingDependency("command: auditor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, runErr := c.auditor.AuditOrders(ctx, msg.Limit)
	result := AuditResult{Report: report}
	if path := strings.TrimSpace(msg.ReportPath); path != "" && (runErr == nil || len(report.Records) > 0) {
		if err := audit.WriteCSVFile(path, report); err != nil {
			return err
		}
		result.ReportPath = path
	}
	storeResult(ctx, result)
	return runErr
}

type SyncItemsCommand struct {
	syncer ItemSyncer
}

func NewSyncItemsCommand(syncer ItemSyncer) *SyncItemsCommand {
	return &SyncItemsCommand{syncer: syncer}
}

func (c *SyncItemsCommand) Execute(ctx context.Context, msg SyncItemsMessage) error {
	if c == nil || c.syncer == nil {
		return core.MissingDependency("command: item syncer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	result, err := c.syncer.SyncUserItems(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type EnqueueItemSyncCommand struct {
	enqueuer SyncEnqueuer
}

func NewEnqueueItemSyncCommand(enqueuer SyncEnqueuer) *EnqueueItemSyncCommand {
	return &EnqueueItemSyncCommand{enqueuer: enqueuer}
}

func (c *EnqueueItemSyncCommand) Execute(ctx context.Context, msg EnqueueItemSyncMessage) error {
	if c == nil || c.enqueuer == nil {
		return core.MissingDependency("command: sync enqueuer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	jobID, err := c.enqueuer.EnqueueItemSync(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, EnqueueResult{UserID: msg.UserID, JobID: jobID})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
