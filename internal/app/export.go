package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/wei"
)

const defaultMaxPoints = 500

// ExportBids renders an auction's bid ladder as CSV and/or PNG.
func (a *App) ExportBids(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultMaxPoints
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	au, err := store.GetAuction(ctx, opts.AuctionID)
	if err != nil {
		return fmt.Errorf("load auction %d: %w", opts.AuctionID, err)
	}
	bids, err := store.ListBids(ctx, opts.AuctionID)
	if err != nil {
		return err
	}
	if len(bids) == 0 {
		a.Logger.Info().Int64("auction_id", au.ID).Msg("auction has no bids to export")
		return nil
	}

	downsampled := downsampleBids(bids, opts.MaxPoints)
	a.Logger.Info().Int64("auction_id", au.ID).Int("total", len(bids)).Int("exported", len(downsampled)).Msg("exporting bids")

	if opts.CSVPath != "" {
		if err := writeBidsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBidsPNG(opts.PNGPath, au, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBids(bids []storage.Bid, max int) []storage.Bid {
	if max <= 1 || len(bids) <= max {
		return bids
	}

	result := make([]storage.Bid, 0, max)
	step := float64(len(bids)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(bids) {
			idx = len(bids) - 1
		}
		result = append(result, bids[idx])
	}
	return result
}

func writeBidsCSV(path string, bids []storage.Bid) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"bid_id", "auction_id", "bidder_address", "bid_amount_wei", "bid_amount_eth", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, bid := range bids {
		record := []string{
			strconv.FormatInt(bid.ID, 10),
			strconv.FormatInt(bid.AuctionID, 10),
			bid.BidderAddress,
			bid.BidAmountWei,
			formatEth(bid.BidAmountWei),
			bid.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeBidsPNG(path string, au storage.Auction, bids []storage.Bid) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(bids))
	amounts := make([]float64, len(bids))
	for i, bid := range bids {
		x[i] = bid.CreatedAt
		amounts[i] = ethFloat(bid.BidAmountWei)
	}

	// go-chart needs at least two points per series
	if len(bids) == 1 {
		x = append(x, x[0].Add(time.Second))
		amounts = append(amounts, amounts[0])
	}

	start := ethFloat(au.StartPriceWei)
	startLine := make([]float64, len(x))
	for i := range startLine {
		startLine[i] = start
	}

	ethFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("Auction #%d: %s #%s", au.ID, au.NFTAddress, au.TokenID),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Bid (ETH)",
			ValueFormatter: ethFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Bids",
				XValues: x,
				YValues: amounts,
			},
			chart.TimeSeries{
				Name:    "Start price",
				XValues: x,
				YValues: startLine,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// formatEth renders a stored wei amount in ETH, or "-" when it does not parse.
func formatEth(amountWei string) string {
	v, err := wei.ParseWei(amountWei)
	if err != nil {
		return "-"
	}
	return wei.ToEth(v)
}

func ethFloat(amountWei string) float64 {
	v, err := wei.ParseWei(amountWei)
	if err != nil {
		return 0
	}
	f, _ := strconv.ParseFloat(wei.ToEth(v), 64)
	return f
}
