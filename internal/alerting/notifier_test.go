package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nft-market-sync/internal/storage"
)

func endedAuction() storage.Auction {
	bid := "1500000000000000000"
	winner := "0xdddddddddddddddddddddddddddddddddddddddd"
	return storage.Auction{
		ID:                   7,
		ChainID:              11155111,
		TokenID:              "2",
		NFTAddress:           "0x2222222222222222222222222222222222222222",
		SellerAddress:        "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		StartPriceWei:        "1000000000000000000",
		CurrentBidWei:        &bid,
		CurrentBidderAddress: &winner,
		EndTime:              1700000000,
		Status:               storage.AuctionEnded,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), NewAuctionEnded(endedAuction())); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Final bid: 1.5 ETH") {
		t.Fatalf("text 应包含成交价: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), NewAuctionEnded(endedAuction())); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageWithoutBids(t *testing.T) {
	a := endedAuction()
	a.CurrentBidWei = nil
	a.CurrentBidderAddress = nil

	text := renderMessage(NewAuctionEnded(a))
	if !strings.Contains(text, "No bids (start price 1 ETH)") {
		t.Fatalf("无出价时应提示起拍价: %q", text)
	}
	if !strings.Contains(text, "2023-11-14T22:13:20Z") {
		t.Fatalf("应包含结束时间: %q", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
