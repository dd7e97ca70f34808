package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockbot/internal/domain"
)

// DefaultLimit: максимальное число тикеров в списке наблюдения.
const DefaultLimit = 15

// Service управляет списками наблюдения пользователей.
type Service struct {
	repo     domain.WatchlistRepo
	channels domain.PrivateChannelRepo
	limit    int
}

// NewService создаёт сервис. limit <= 0 означает значение по умолчанию.
func NewService(repo domain.WatchlistRepo, channels domain.PrivateChannelRepo, limit int) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{repo: repo, channels: channels, limit: limit}
}

// Limit возвращает вместимость списка.
func (s *Service) Limit() int { return s.limit }

// Add добавляет тикер. Требует приватный канал watchlist.
func (s *Service) Add(ctx context.Context, owner domain.Owner, symbol, companyName string) (domain.WatchlistEntry, error) {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.WatchlistEntry{}, err
	}
	if _, err := s.channels.GetPrivateChannel(ctx, owner, domain.ChannelKindWatchlist); err != nil {
		return domain.WatchlistEntry{}, fmt.Errorf("поиск канала watchlist: %w", err)
	}
	entries, err := s.repo.ListWatchlist(ctx, owner)
	if err != nil {
		return domain.WatchlistEntry{}, fmt.Errorf("чтение списка: %w", err)
	}
	for _, e := range entries {
		if e.Symbol == normalized {
			return domain.WatchlistEntry{}, fmt.Errorf("watchlist %s: %w", normalized, domain.ErrAlreadyExists)
		}
	}
	if len(entries) >= s.limit {
		return domain.WatchlistEntry{}, fmt.Errorf("watchlist holds %d symbols: %w", s.limit, domain.ErrLimitReached)
	}
	entry, err := s.repo.AddWatchlistEntry(ctx, domain.WatchlistEntry{
		Owner:       owner,
		Symbol:      normalized,
		CompanyName: strings.TrimSpace(companyName),
	})
	if err != nil {
		return domain.WatchlistEntry{}, fmt.Errorf("сохранение тикера: %w", err)
	}
	return entry, nil
}

// Remove удаляет тикер или возвращает ErrNotFound.
func (s *Service) Remove(ctx context.Context, owner domain.Owner, symbol string) error {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveWatchlistEntry(ctx, owner, normalized); err != nil {
		return fmt.Errorf("удаление тикера: %w", err)
	}
	return nil
}

// List возвращает записи в порядке добавления.
func (s *Service) List(ctx context.Context, owner domain.Owner) ([]domain.WatchlistEntry, error) {
	entries, err := s.repo.ListWatchlist(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("чтение списка: %w", err)
	}
	return entries, nil
}

// Contains проверяет, что тикер есть в списке владельца.
func (s *Service) Contains(ctx context.Context, owner domain.Owner, symbol string) (bool, error) {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return false, nil
		}
		return false, err
	}
	entries, err := s.List(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Symbol == normalized {
			return true, nil
		}
	}
	return false, nil
}
