package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	PollCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "news_poll_cycle_seconds",
		Help:    "Длительность цикла опроса новостей",
		Buckets: prometheus.DefBuckets,
	})

	NewsFetchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_fetched_total",
		Help: "Количество полученных новостей по источникам",
	}, []string{"source"})

	NewsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_published_total",
		Help: "Количество опубликованных новостей по источникам",
	}, []string{"source"})

	SourceFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_source_failures_total",
		Help: "Ошибки источников новостей",
	}, []string{"source", "kind"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_commands_total",
		Help: "Количество обработанных команд",
	}, []string{"command", "status"})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		PollCycleSeconds,
		NewsFetchedTotal,
		NewsPublishedTotal,
		SourceFailuresTotal,
		CommandsTotal,
		BotSendErrors,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveCommand учитывает обработанную команду.
func ObserveCommand(command string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
}
