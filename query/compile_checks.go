package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/juanbarco92/delta/core"
)

var (
	_ gocmd.Querier[AuthorizationURLMessage, string]         = (*AuthorizationURLQuery)(nil)
	_ gocmd.Querier[GetItemMessage, core.ItemDetail]         = (*GetItemQuery)(nil)
	_ gocmd.Querier[ListUserItemsMessage, []core.ItemDetail] = (*ListUserItemsQuery)(nil)
)
