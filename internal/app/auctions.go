package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"nft-market-sync/internal/auction"
	"nft-market-sync/internal/reconcile"
	"nft-market-sync/internal/storage"
)

// Reconcile runs one reconciliation pass, for every chain or for one.
func (a *App) Reconcile(ctx context.Context, opts ReconcileOptions) error {
	if opts.ChainID != 0 {
		if _, ok := a.Config.ChainByID(opts.ChainID); !ok {
			return fmt.Errorf("chain %d is not configured", opts.ChainID)
		}
	}

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var failed int
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Chain\tRun\tMode\tBlocks\tEvents\tListings\tSold\tStatus\tError")

	var results []reconcile.ChainResult
	if opts.ChainID != 0 {
		res, _ := c.reconciler.ReconcileChain(ctx, opts.ChainID)
		results = []reconcile.ChainResult{res}
	} else {
		results = c.service.ReconcileAll(ctx)
	}
	for _, res := range results {
		errMsg := ""
		if res.Err != nil {
			failed++
			errMsg = sanitizeInline(res.Err.Error())
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			res.ChainID,
			res.RunID,
			res.Mode,
			blockRange(res.FromBlock, res.ToBlock),
			res.Events,
			res.Listings,
			res.Sold,
			res.Status,
			errMsg,
		)
	}
	writer.Flush()

	if failed > 0 {
		return fmt.Errorf("%d chain(s) failed to reconcile", failed)
	}
	return nil
}

// CreateAuction opens an auction and prints it.
func (a *App) CreateAuction(ctx context.Context, req auction.CreateAuctionRequest) error {
	return a.withService(ctx, func(c *components) error {
		created, err := c.service.CreateAuction(ctx, req)
		if err != nil {
			return err
		}
		a.printAuctions([]storage.Auction{created})
		return nil
	})
}

// PlaceBid submits a bid and prints the updated auction.
func (a *App) PlaceBid(ctx context.Context, auctionID int64, bidder, amountWei string) error {
	return a.withService(ctx, func(c *components) error {
		updated, err := c.service.PlaceBid(ctx, auctionID, bidder, amountWei)
		if err != nil {
			return err
		}
		a.printAuctions([]storage.Auction{updated})
		return nil
	})
}

// ListAuctions prints active auctions.
func (a *App) ListAuctions(ctx context.Context) error {
	return a.withService(ctx, func(c *components) error {
		auctions, err := c.service.ListActiveAuctions(ctx)
		if err != nil {
			return err
		}
		a.printAuctions(auctions)
		return nil
	})
}

// ListBids prints the bid history of an auction.
func (a *App) ListBids(ctx context.Context, auctionID int64) error {
	return a.withService(ctx, func(c *components) error {
		bids, err := c.service.ListBids(ctx, auctionID)
		if err != nil {
			return err
		}
		a.printBids(bids)
		return nil
	})
}

// Sweep ends expired auctions once and prints them.
func (a *App) Sweep(ctx context.Context) error {
	return a.withService(ctx, func(c *components) error {
		ended, err := c.service.SweepExpiredAuctions(ctx)
		if err != nil {
			return err
		}
		a.printAuctions(ended)
		return nil
	})
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, err := a.openPostgres(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn not configured; nothing to migrate")
	}
	defer store.Close()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema up to date")
		return nil
	}
	for _, v := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", v)
	}
	return nil
}

func (a *App) withService(ctx context.Context, fn func(c *components) error) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()
	return fn(c)
}
