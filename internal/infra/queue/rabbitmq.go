package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
)

// NewsEvent: сообщение о новости, публикуемое в exchange.
type NewsEvent struct {
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id"`
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Publisher   string    `json:"publisher,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NewNewsEvent переводит новость в формат сообщения.
func NewNewsEvent(item domain.NewsItem) NewsEvent {
	return NewsEvent{
		Source:      string(item.Source),
		ExternalID:  item.ExternalID,
		Headline:    item.Headline,
		Summary:     item.Summary,
		URL:         item.URL,
		Publisher:   item.Publisher,
		PublishedAt: item.PublishedAt,
	}
}

// RabbitPublisher публикует новости в topic-exchange RabbitMQ.
type RabbitPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewRabbitPublisher подключается к брокеру и объявляет exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitPublisher{conn: conn, exchange: exchange, ch: ch}, nil
}

// Name реализует domain.NewsMirror.
func (p *RabbitPublisher) Name() string { return "rabbitmq" }

// MirrorNews публикует новость с routing key news.<source>.
func (p *RabbitPublisher) MirrorNews(ctx context.Context, item domain.NewsItem) error {
	body, err := json.Marshal(NewNewsEvent(item))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(item.Source), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.Key(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// RoutingKey возвращает ключ маршрутизации для источника.
func RoutingKey(source domain.NewsSource) string {
	return "news." + string(source)
}

var _ domain.NewsMirror = (*RabbitPublisher)(nil)
