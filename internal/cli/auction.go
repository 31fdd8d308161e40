package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"nft-market-sync/internal/auction"
	"nft-market-sync/internal/wei"
)

var (
	createChainID  int64
	createToken    string
	createNFT      string
	createSeller   string
	createPriceWei string
	createPriceEth string
	createStart    string
	createDuration time.Duration

	bidBidder    string
	bidAmountWei string
	bidAmountEth string
)

var auctionCmd = &cobra.Command{
	Use:   "auction",
	Short: "Manage off-chain auctions",
}

var auctionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new auction",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := amountFlag(createPriceWei, createPriceEth, "--start-price")
		if err != nil {
			return err
		}

		start := time.Now().UTC()
		if createStart != "" {
			start, err = time.Parse(time.RFC3339, createStart)
			if err != nil {
				return fmt.Errorf("invalid --start value: %w", err)
			}
		}
		if createDuration <= 0 {
			return fmt.Errorf("--duration must be positive")
		}

		return getApp().CreateAuction(cmd.Context(), auction.CreateAuctionRequest{
			ChainID:       createChainID,
			TokenID:       createToken,
			NFTAddress:    createNFT,
			SellerAddress: createSeller,
			StartPriceWei: price,
			StartTime:     start.Unix(),
			EndTime:       start.Add(createDuration).Unix(),
		})
	},
}

var auctionBidCmd = &cobra.Command{
	Use:   "bid <auction-id>",
	Short: "Place a bid on an auction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAuctionID(args[0])
		if err != nil {
			return err
		}
		amount, err := amountFlag(bidAmountWei, bidAmountEth, "--amount")
		if err != nil {
			return err
		}
		return getApp().PlaceBid(cmd.Context(), id, bidBidder, amount)
	},
}

var auctionListCmd = &cobra.Command{
	Use:   "list",
	Short: "Display active auctions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAuctions(cmd.Context())
	},
}

var auctionBidsCmd = &cobra.Command{
	Use:   "bids <auction-id>",
	Short: "Display the bid history of an auction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAuctionID(args[0])
		if err != nil {
			return err
		}
		return getApp().ListBids(cmd.Context(), id)
	},
}

var auctionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "End every auction past its deadline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sweep(cmd.Context())
	},
}

func init() {
	auctionCreateCmd.Flags().Int64Var(&createChainID, "chain", 0, "Chain id of the NFT")
	auctionCreateCmd.Flags().StringVar(&createToken, "token", "", "Token id")
	auctionCreateCmd.Flags().StringVar(&createNFT, "nft", "", "NFT contract address")
	auctionCreateCmd.Flags().StringVar(&createSeller, "seller", "", "Seller address")
	auctionCreateCmd.Flags().StringVar(&createPriceWei, "start-price-wei", "", "Start price in wei")
	auctionCreateCmd.Flags().StringVar(&createPriceEth, "start-price", "", "Start price in ETH")
	auctionCreateCmd.Flags().StringVar(&createStart, "start", "", "Start timestamp (RFC3339, defaults to now)")
	auctionCreateCmd.Flags().DurationVar(&createDuration, "duration", 24*time.Hour, "Auction length")

	auctionBidCmd.Flags().StringVar(&bidBidder, "bidder", "", "Bidder address")
	auctionBidCmd.Flags().StringVar(&bidAmountWei, "amount-wei", "", "Bid amount in wei")
	auctionBidCmd.Flags().StringVar(&bidAmountEth, "amount", "", "Bid amount in ETH")

	auctionCmd.AddCommand(auctionCreateCmd, auctionBidCmd, auctionListCmd, auctionBidsCmd, auctionSweepCmd)
}

// amountFlag returns a wei amount from either the wei or the ETH form of a flag.
func amountFlag(weiValue, ethValue, name string) (string, error) {
	switch {
	case weiValue != "" && ethValue != "":
		return "", fmt.Errorf("%s and %s-wei are mutually exclusive", name, name)
	case weiValue != "":
		return weiValue, nil
	case ethValue != "":
		amount, err := wei.ParseEth(ethValue)
		if err != nil {
			return "", fmt.Errorf("invalid %s value: %w", name, err)
		}
		return amount.String(), nil
	default:
		return "", fmt.Errorf("%s or %s-wei must be provided", name, name)
	}
}

func parseAuctionID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid auction id %q", v)
	}
	return id, nil
}
