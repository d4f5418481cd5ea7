package main

import (
	"encoding/json"
	"fmt"

	"github.com/juanbarco92/delta/adapters/gocommand"
	deltacommand "github.com/juanbarco92/delta/command"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/query"
	itemsync "github.com/juanbarco92/delta/sync"
)

type auditCmd struct {
	Limit  int    `help:"Number of most recent orders to audit. Defaults to the configured order limit."`
	Report string `help:"CSV report path. Defaults to the configured report path." type:"path"`
	User   int64  `help:"Local user id whose credential is used (SQL storage only)."`
}

// Run audits with the stored credential. Without one, the operator is sent
// through the consent flow first.
func (c *auditCmd) Run(rt *runtime) error {
	facade, err := rt.facade(c.User)
	if err != nil {
		return err
	}
	bus, err := facade.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	needed, err := facade.NeedsAuthorization(rt.ctx)
	if err != nil {
		return err
	}
	if needed {
		if err := authorizeInteractively(rt); err != nil {
			return err
		}
	}

	report := c.Report
	if report == "" {
		report = rt.cfg.Audit.ReportPath
	}
	result, err := gocommand.DispatchWithResult[deltacommand.RunAuditMessage, deltacommand.AuditResult](rt.ctx, deltacommand.RunAuditMessage{
		Limit:      c.Limit,
		ReportPath: report,
	})
	if err != nil && result.ReportPath == "" && len(result.Report.Records) == 0 {
		return err
	}
	stats := result.Report.Stats
	fmt.Fprintf(rt.out, "seller %d: %d orders, %d records, skipped %d without shipment, %d without SKU, %d unknown SKU, %d failed\n",
		result.Report.Seller.ID, stats.Orders, stats.Records,
		stats.SkippedNoShipment, stats.SkippedNoSKU, stats.SkippedUnknownSKU, stats.FailedOrders)
	if result.ReportPath != "" {
		fmt.Fprintf(rt.out, "report written to %s\n", result.ReportPath)
	}
	return err
}

func authorizeInteractively(rt *runtime) error {
	url, err := gocommand.Query[query.AuthorizationURLMessage, string](rt.ctx, query.AuthorizationURLMessage{})
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "No valid token found. Open this URL and authorize the application:\n%s\n", url)
	code, err := rt.prompt("Paste the code from the redirect URL: ")
	if err != nil {
		return err
	}
	return exchange(rt, code)
}

func exchange(rt *runtime, code string) error {
	result, err := gocommand.DispatchWithResult[deltacommand.ExchangeCodeMessage, deltacommand.ExchangeResult](rt.ctx, deltacommand.ExchangeCodeMessage{Code: code})
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "authorized marketplace user %s until %s\n", result.UserID, result.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

type authURLCmd struct{}

func (c *authURLCmd) Run(rt *runtime) error {
	facade, err := rt.facadeWithoutStorage()
	if err != nil {
		return err
	}
	url, err := facade.Queries().AuthorizationURL.Query(rt.ctx, query.AuthorizationURLMessage{})
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.out, url)
	return nil
}

type exchangeCmd struct {
	Code string `arg:"" help:"Authorization code from the redirect URL."`
	User int64  `help:"Local user id the credential belongs to (SQL storage only)."`
}

func (c *exchangeCmd) Run(rt *runtime) error {
	facade, err := rt.facade(c.User)
	if err != nil {
		return err
	}
	bus, err := facade.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()
	return exchange(rt, c.Code)
}

type syncCmd struct {
	User int64 `required:"" help:"Local user id to sync."`
}

func (c *syncCmd) Run(rt *runtime) error {
	facade, err := rt.facade(c.User)
	if err != nil {
		return err
	}
	bus, err := facade.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	if facade.Commands().SyncItems == nil {
		return fmt.Errorf("delta: item sync needs sqlite or postgres storage")
	}
	result, err := gocommand.DispatchWithResult[deltacommand.SyncItemsMessage, itemsync.SyncResult](rt.ctx, deltacommand.SyncItemsMessage{UserID: c.User})
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "user %d: %d listings found, %d stored\n", result.UserID, result.Found, result.Synced)
	return nil
}

type userAddCmd struct {
	Email         string `required:"" help:"Contact email."`
	MarketplaceID int64  `name:"marketplace-id" required:"" help:"Marketplace user id of the seller account."`
}

func (c *userAddCmd) Run(rt *runtime) error {
	factory, err := rt.repositories()
	if err != nil {
		return err
	}
	user, err := factory.UserStore().Create(rt.ctx, core.User{
		Email:             c.Email,
		MarketplaceUserID: c.MarketplaceID,
		Active:            true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "user %d created for marketplace account %d\n", user.ID, user.MarketplaceUserID)
	return nil
}

type itemCmd struct {
	ID string `arg:"" help:"Listing id."`
}

func (c *itemCmd) Run(rt *runtime) error {
	facade, err := rt.facadeWithoutStorage()
	if err != nil {
		return err
	}
	if facade.Queries().GetItem == nil {
		return fmt.Errorf("delta: stored listings need sqlite or postgres storage")
	}
	item, err := facade.Queries().GetItem.Query(rt.ctx, query.GetItemMessage{ItemID: c.ID})
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(rt.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(item)
}
