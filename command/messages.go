// Package command exposes the state-changing delta operations as go-command
// commanders.
package command

import (
	"strings"

	"github.com/juanbarco92/delta/core"
)

const (
	TypeExchangeCode    = "delta.command.auth.exchange_code"
	TypeRunAudit        = "delta.command.audit.run"
	TypeSyncItems       = "delta.command.items.sync"
	TypeEnqueueItemSync = "delta.command.items.enqueue_sync"
)

type ExchangeCodeMessage struct {
	Code string
}

func (ExchangeCodeMessage) Type() string { return TypeExchangeCode }

func (m ExchangeCodeMessage) Validate() error {
	if strings.TrimSpace(m.Code) == "" {
		return core.FieldError("command", "code", "authorization code is required")
	}
	return nil
}

// RunAuditMessage audits the most recent Limit orders. When ReportPath is
// set the report is also written there as CSV.
type RunAuditMessage struct {
	Limit      int
	ReportPath string
}

func (RunAuditMessage) Type() string { return TypeRunAudit }

func (m RunAuditMessage) Validate() error {
	if m.Limit < 0 {
		return core.FieldError("command", "limit", "limit must not be negative")
	}
	return nil
}

type SyncItemsMessage struct {
	UserID int64
}

func (SyncItemsMessage) Type() string { return TypeSyncItems }

func (m SyncItemsMessage) Validate() error {
	if m.UserID <= 0 {
		return core.FieldError("command", "user_id", "user id is required")
	}
	return nil
}

type EnqueueItemSyncMessage struct {
	UserID int64
}

func (EnqueueItemSyncMessage) Type() string { return TypeEnqueueItemSync }

func (m EnqueueItemSyncMessage) Validate() error {
	if m.UserID <= 0 {
		return core.FieldError("command", "user_id", "user id is required")
	}
	return nil
}
