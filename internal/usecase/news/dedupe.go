package news

import (
	"sort"

	"stockbot/internal/domain"
)

// DeduplicateByURL удаляет новости с одинаковыми ссылками, оставляя первую.
func DeduplicateByURL(items []domain.NewsItem) []domain.NewsItem {
	seen := make(map[string]struct{})
	out := make([]domain.NewsItem, 0, len(items))
	for _, item := range items {
		key := item.URL
		if key == "" {
			key = item.Key()
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// SortOldestFirst упорядочивает новости по времени публикации.
func SortOldestFirst(items []domain.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
}
