package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nft-market-sync/internal/storage"
	"nft-market-sync/internal/wei"
)

// Notification 封装拍卖结束的上下文。
type Notification struct {
	Auction storage.Auction
	EndedAt time.Time
}

// NewAuctionEnded builds the notification for an auction closed by a sweep.
func NewAuctionEnded(a storage.Auction) Notification {
	return Notification{Auction: a, EndedAt: time.Unix(a.EndTime, 0)}
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Int64("auction_id", note.Auction.ID).
		Int64("chain_id", note.Auction.ChainID).
		Msg("拍卖结束通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	a := note.Auction
	builder := strings.Builder{}
	builder.WriteString("[Auction Ended]\n")
	builder.WriteString(fmt.Sprintf("Auction: #%d on chain %d\n", a.ID, a.ChainID))
	builder.WriteString(fmt.Sprintf("Token: %s #%s\n", a.NFTAddress, a.TokenID))
	builder.WriteString(fmt.Sprintf("Seller: %s\n", a.SellerAddress))
	builder.WriteString(fmt.Sprintf("Ended: %s UTC\n", note.EndedAt.UTC().Format(time.RFC3339)))
	if a.CurrentBidWei == nil || a.CurrentBidderAddress == nil {
		builder.WriteString(fmt.Sprintf("No bids (start price %s ETH)\n", ethString(a.StartPriceWei)))
		return builder.String()
	}
	builder.WriteString(fmt.Sprintf("Winner: %s\n", *a.CurrentBidderAddress))
	builder.WriteString(fmt.Sprintf("Final bid: %s ETH (%s wei)\n", ethString(*a.CurrentBidWei), *a.CurrentBidWei))
	return builder.String()
}

func ethString(amountWei string) string {
	amount, ok := new(big.Int).SetString(amountWei, 10)
	if !ok {
		return amountWei
	}
	return wei.ToEth(amount)
}

var _ Notifier = (*TelegramNotifier)(nil)
