package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ExchangeCodeMessage]    = (*ExchangeCodeCommand)(nil)
	_ gocmd.Commander[RunAuditMessage]        = (*RunAuditCommand)(nil)
	_ gocmd.Commander[SyncItemsMessage]       = (*SyncItemsCommand)(nil)
	_ gocmd.Commander[EnqueueItemSyncMessage] = (*EnqueueItemSyncCommand)(nil)
)
