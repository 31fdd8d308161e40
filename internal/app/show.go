package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"nft-market-sync/internal/storage"
)

// Listings prints unsold listings of every chain, enriched with metadata.
func (a *App) Listings(ctx context.Context) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	listings, err := c.service.ListActiveListings(ctx)
	if err != nil {
		return err
	}
	a.printListings(listings)
	return nil
}

func (a *App) printListings(listings []storage.Listing) {
	if len(listings) == 0 {
		fmt.Fprintln(a.Out, "no active listings found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tChain\tNFT\tToken\tPrice (ETH)\tSeller\tName\tImage")
	for _, l := range listings {
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.ChainID,
			l.NFTAddress,
			l.TokenID,
			l.PriceEth,
			l.SellerAddress,
			sanitizeInline(deref(l.Name)),
			deref(l.ImageURL),
		)
	}
	writer.Flush()
}

// Runs prints the most recent reconciliation runs.
func (a *App) Runs(ctx context.Context, limit int) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	a.printRuns(runs)
	return nil
}

func (a *App) printRuns(runs []storage.ReconcileRun) {
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no reconciliation runs found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tChain\tMode\tBlocks\tEvents\tListings\tStatus\tDuration\tError")
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.ChainID,
			run.Mode,
			blockRange(run.FromBlock, run.ToBlock),
			run.Events,
			run.Listings,
			run.Status,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			errMsg,
		)
	}
	writer.Flush()
}

func (a *App) printAuctions(auctions []storage.Auction) {
	if len(auctions) == 0 {
		fmt.Fprintln(a.Out, "no auctions found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tChain\tNFT\tToken\tStart (wei)\tCurrent (wei)\tBidder\tEnds (UTC)\tStatus")
	for _, au := range auctions {
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			au.ID,
			au.ChainID,
			au.NFTAddress,
			au.TokenID,
			au.StartPriceWei,
			orDash(au.CurrentBidWei),
			orDash(au.CurrentBidderAddress),
			time.Unix(au.EndTime, 0).UTC().Format(time.RFC3339),
			au.Status,
		)
	}
	writer.Flush()
}

func (a *App) printBids(bids []storage.Bid) {
	if len(bids) == 0 {
		fmt.Fprintln(a.Out, "no bids found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tBidder\tAmount (wei)\tAmount (ETH)\tTime (UTC)")
	for _, b := range bids {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n",
			b.ID,
			b.BidderAddress,
			b.BidAmountWei,
			formatEth(b.BidAmountWei),
			b.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func blockRange(from, to *int64) string {
	if from == nil || to == nil {
		return "-"
	}
	return fmt.Sprintf("%d..%d", *from, *to)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func orDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
