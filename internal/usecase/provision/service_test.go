package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockbot/internal/adapters/repo"
	"stockbot/internal/domain"
)

type stubManager struct {
	next    int
	created map[string]string
	deleted []string
	missing bool
}

func (s *stubManager) CreatePrivateTextChannel(_ context.Context, guildID, name, ownerUserID string) (string, error) {
	s.next++
	id := fmt.Sprintf("ch-%d", s.next)
	if s.created == nil {
		s.created = map[string]string{}
	}
	s.created[id] = name
	return id, nil
}

func (s *stubManager) DeleteChannel(_ context.Context, channelID string) error {
	s.deleted = append(s.deleted, channelID)
	if s.missing {
		return domain.ErrNotFound
	}
	return nil
}

var (
	alice = domain.Owner{GuildID: "g", UserID: "alice"}
	bob   = domain.Owner{GuildID: "g", UserID: "bob"}
)

func setup() (*Service, *repo.Memory, *stubManager) {
	store := repo.NewMemory(nil)
	manager := &stubManager{}
	return NewService(store, manager, store, store, zerolog.Nop()), store, manager
}

func TestChannelName(t *testing.T) {
	cases := map[string]string{
		"Alice":     "private_watchlist-alice",
		"John Doe":  "private_watchlist-john-doe",
		"эмодзи🙂":   "private_watchlist-user",
		"dev.ops_1": "private_watchlist-dev-ops_1",
	}
	for in, want := range cases {
		if got := ChannelName(domain.ChannelKindWatchlist, in); got != want {
			t.Fatalf("ChannelName(%q) = %q, ожидали %q", in, got, want)
		}
	}
}

func TestCreatePrivateOncePerKind(t *testing.T) {
	svc, _, manager := setup()
	ctx := context.Background()

	id, err := svc.CreatePrivate(ctx, alice, domain.ChannelKindWatchlist, "Alice")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if manager.created[id] != "private_watchlist-alice" {
		t.Fatalf("неожиданное имя канала: %v", manager.created)
	}
	again, err := svc.CreatePrivate(ctx, alice, domain.ChannelKindWatchlist, "Alice")
	if !errors.Is(err, domain.ErrAlreadyExists) || again != id {
		t.Fatalf("ожидали ErrAlreadyExists с прежним каналом, получили %q %v", again, err)
	}
	if _, err := svc.CreatePrivate(ctx, alice, domain.ChannelKindPortfolio, "Alice"); err != nil {
		t.Fatalf("портфель создаётся независимо: %v", err)
	}
	if len(manager.created) != 2 {
		t.Fatalf("создано каналов: %d", len(manager.created))
	}
	if !svc.IsPrivateChannel(ctx, alice, id) || svc.IsPrivateChannel(ctx, bob, id) {
		t.Fatal("IsPrivateChannel должен учитывать владельца")
	}
}

func TestDeletePrivateCascadesOnlyOwner(t *testing.T) {
	svc, store, manager := setup()
	ctx := context.Background()

	for _, o := range []domain.Owner{alice, bob} {
		if _, err := svc.CreatePrivate(ctx, o, domain.ChannelKindWatchlist, o.UserID); err != nil {
			t.Fatal(err)
		}
		if _, err := store.AddWatchlistEntry(ctx, domain.WatchlistEntry{Owner: o, Symbol: "AAPL"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.DeletePrivate(ctx, alice, domain.ChannelKindWatchlist); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(manager.deleted) != 1 {
		t.Fatalf("удалено каналов: %v", manager.deleted)
	}
	if rest, _ := store.ListWatchlist(ctx, alice); len(rest) != 0 {
		t.Fatalf("записи alice должны удалиться, осталось %d", len(rest))
	}
	if rest, _ := store.ListWatchlist(ctx, bob); len(rest) != 1 {
		t.Fatalf("записи bob не должны пострадать, осталось %d", len(rest))
	}
	if err := svc.DeletePrivate(ctx, alice, domain.ChannelKindWatchlist); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestDeletePrivateToleratesMissingChannel(t *testing.T) {
	svc, store, manager := setup()
	ctx := context.Background()
	if _, err := svc.CreatePrivate(ctx, alice, domain.ChannelKindPortfolio, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.BuyPosition(ctx, alice, "MSFT", decimal.NewFromInt(1), decimal.NewFromInt(300)); err != nil {
		t.Fatal(err)
	}
	manager.missing = true
	if err := svc.DeletePrivate(ctx, alice, domain.ChannelKindPortfolio); err != nil {
		t.Fatalf("отсутствующий канал не ошибка: %v", err)
	}
	if positions, _ := store.ListPositions(ctx, alice); len(positions) != 0 {
		t.Fatalf("позиции должны удалиться: %+v", positions)
	}
}

func TestHandleChannelDeleted(t *testing.T) {
	svc, store, _ := setup()
	ctx := context.Background()
	id, err := svc.CreatePrivate(ctx, alice, domain.ChannelKindWatchlist, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddWatchlistEntry(ctx, domain.WatchlistEntry{Owner: alice, Symbol: "TSLA"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleChannelDeleted(ctx, "unknown"); err != nil {
		t.Fatalf("чужой канал игнорируется: %v", err)
	}
	if err := svc.HandleChannelDeleted(ctx, id); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.GetPrivateChannel(ctx, alice, domain.ChannelKindWatchlist); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("привязка должна удалиться: %v", err)
	}
	if rest, _ := store.ListWatchlist(ctx, alice); len(rest) != 0 {
		t.Fatalf("записи должны удалиться: %d", len(rest))
	}
}
