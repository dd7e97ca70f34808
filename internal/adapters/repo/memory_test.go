package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
	"stockbot/internal/infra/clock"
)

var (
	alice = domain.Owner{GuildID: "g1", UserID: "alice"}
	bob   = domain.Owner{GuildID: "g1", UserID: "bob"}
)

func newMemory() (*Memory, *clock.Fake) {
	fake := clock.NewFake(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewMemory(fake), fake
}

func TestMemoryWatchlistOrderAndUniqueness(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory()

	for _, sym := range []string{"TSLA", "AAPL", "MSFT"} {
		if _, err := m.AddWatchlistEntry(ctx, domain.WatchlistEntry{Owner: alice, Symbol: sym}); err != nil {
			t.Fatalf("add %s: %v", sym, err)
		}
	}
	if _, err := m.AddWatchlistEntry(ctx, domain.WatchlistEntry{Owner: alice, Symbol: "AAPL"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("ожидали ErrAlreadyExists, получили %v", err)
	}
	if _, err := m.AddWatchlistEntry(ctx, domain.WatchlistEntry{Owner: bob, Symbol: "AAPL"}); err != nil {
		t.Fatalf("у другого пользователя тикер независим: %v", err)
	}

	entries, _ := m.ListWatchlist(ctx, alice)
	got := [3]string{entries[0].Symbol, entries[1].Symbol, entries[2].Symbol}
	if got != [3]string{"TSLA", "AAPL", "MSFT"} {
		t.Fatalf("порядок добавления нарушен: %v", got)
	}

	if err := m.RemoveWatchlistEntry(ctx, alice, "AAPL"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.RemoveWatchlistEntry(ctx, alice, "AAPL"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	entries, _ = m.ListWatchlist(ctx, alice)
	if len(entries) != 2 || entries[0].Symbol != "TSLA" || entries[1].Symbol != "MSFT" {
		t.Fatalf("неожиданный список: %+v", entries)
	}

	n, _ := m.DeleteWatchlist(ctx, alice)
	if n != 2 {
		t.Fatalf("удалено %d", n)
	}
	if rest, _ := m.ListWatchlist(ctx, bob); len(rest) != 1 {
		t.Fatalf("список bob не должен пострадать: %+v", rest)
	}
}

func TestMemoryPortfolio(t *testing.T) {
	ctx := context.Background()
	m, fake := newMemory()
	d := decimal.RequireFromString

	if _, err := m.BuyPosition(ctx, alice, "AAPL", d("10"), d("100")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	fake.Advance(time.Minute)
	pos, err := m.BuyPosition(ctx, alice, "AAPL", d("10"), d("200"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !pos.AveragePrice.Equal(d("150")) || !pos.Shares.Equal(d("20")) {
		t.Fatalf("неожиданная позиция: %+v", pos)
	}
	if _, err := m.SellPosition(ctx, alice, "MSFT", d("1"), d("1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	res, err := m.SellPosition(ctx, alice, "AAPL", d("5"), d("170"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.RealizedPnL.Equal(d("100")) || !res.RemainingShares.Equal(d("15")) {
		t.Fatalf("неожиданный результат: %+v", res)
	}
	if _, err := m.SellPosition(ctx, alice, "AAPL", d("15"), d("140")); err != nil {
		t.Fatalf("sell all: %v", err)
	}
	positions, _ := m.ListPositions(ctx, alice)
	if len(positions) != 0 {
		t.Fatalf("позиция должна удалиться: %+v", positions)
	}
	pnl, _ := m.RealizedPnL(ctx, alice)
	if !pnl.Equal(d("-50")) {
		t.Fatalf("pnl = %v", pnl)
	}
	_ = m.ResetRealizedPnL(ctx, alice)
	if pnl, _ = m.RealizedPnL(ctx, alice); !pnl.IsZero() {
		t.Fatalf("pnl после сброса = %v", pnl)
	}
}

func TestMemoryFractionalPositionCloses(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory()
	d := decimal.RequireFromString

	_, _ = m.BuyPosition(ctx, alice, "AAPL", d("0.1"), d("10"))
	_, _ = m.BuyPosition(ctx, alice, "AAPL", d("0.2"), d("10"))
	if _, err := m.SellPosition(ctx, alice, "AAPL", d("0.3"), d("10")); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if positions, _ := m.ListPositions(ctx, alice); len(positions) != 0 {
		t.Fatalf("позиция должна закрыться: %+v", positions)
	}
}

func TestMemoryPrivateChannels(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory()

	ch := domain.PrivateChannel{Owner: alice, Kind: domain.ChannelKindWatchlist, ChannelID: "c1"}
	if err := m.CreatePrivateChannel(ctx, ch); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreatePrivateChannel(ctx, ch); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("ожидали ErrAlreadyExists, получили %v", err)
	}
	got, err := m.GetPrivateChannelByID(ctx, "c1")
	if err != nil || got.Owner != alice || got.Kind != domain.ChannelKindWatchlist {
		t.Fatalf("неожиданный канал: %+v %v", got, err)
	}
	if _, err := m.GetPrivateChannel(ctx, alice, domain.ChannelKindPortfolio); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if err := m.DeletePrivateChannel(ctx, alice, domain.ChannelKindWatchlist); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeletePrivateChannel(ctx, alice, domain.ChannelKindWatchlist); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}
