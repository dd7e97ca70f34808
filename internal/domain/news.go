package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// FallbackNewsID строит идентификатор новости, если поставщик его не вернул.
func FallbackNewsID(source NewsSource, headline string, publishedAt time.Time, url string) string {
	raw := string(source) + "-" + headline + "-" + strconv.FormatInt(publishedAt.Unix(), 10) + "-" + url
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Fresh сообщает, опубликована ли новость не раньше now-window.
func (n NewsItem) Fresh(now time.Time, window time.Duration) bool {
	if window <= 0 || n.PublishedAt.IsZero() {
		return true
	}
	return !n.PublishedAt.Before(now.Add(-window))
}
