// Команда kitchen-feed читает события заказов из Kafka и печатает кухонные тикеты.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/app"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

const defaultGroup = "pos-kitchen-feed"

func main() {
	group := flag.String("group", defaultGroup, "kafka consumer group")
	fromStart := flag.Bool("from-start", false, "read the topic from the oldest offset for a new group")
	flag.Parse()

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	if err := app.ConfigureLogging(cfg); err != nil {
		log.WithError(err).Fatal("некорректные настройки логирования")
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("POS_KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		log.WithError(err).Fatal("failed to create dlq producer")
	}
	defer func() { _ = producer.Close() }()

	printer := &ticketPrinter{out: os.Stdout, logger: log.WithField("component", "kitchen-feed")}
	opts := []kafka.ConsumerOption{
		kafka.WithDLQ(producer, cfg.KafkaDLQTopic),
		kafka.WithMaxRetries(cfg.OutboxMaxAttempts),
		kafka.WithRetryDelay(cfg.OutboxRetryDelay),
	}
	if *fromStart {
		opts = append(opts, kafka.WithOldestOffset())
	}
	consumer, err := kafka.NewConsumer(brokers, *group, []string{cfg.KafkaTopic}, kafka.OrderEventHandler(printer.handle), opts...)
	if err != nil {
		log.WithError(err).Fatal("failed to create consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start consumer")
	}

	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		log.WithError(err).Warn("consumer stopped with error")
	}
}

// ticketPrinter печатает тикет на каждое событие заказа.
type ticketPrinter struct {
	out    io.Writer
	logger *log.Entry
}

func (p *ticketPrinter) handle(_ context.Context, envelope kafka.Envelope, event domain.OrderEvent) error {
	ticket, ok := formatTicket(event)
	if !ok {
		p.logger.WithFields(log.Fields{"event_id": envelope.ID, "type": event.Type}).Debug("event skipped")
		return nil
	}
	_, err := fmt.Fprintln(p.out, ticket)
	return err
}

// formatTicket собирает строку тикета. События без заказа кухне не нужны.
func formatTicket(event domain.OrderEvent) (string, bool) {
	if event.Order == nil {
		return "", false
	}
	order := event.Order

	var action string
	switch event.Type {
	case domain.EventOrderCreated:
		action = "NEW"
	case domain.EventOrderUpdated:
		action = "CHANGED"
	case domain.EventOrderCancelled:
		action = "VOID"
	case domain.EventOrderPaid:
		action = "PAID"
	default:
		return "", false
	}

	lines := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = order.CreatedAt
	}
	return fmt.Sprintf("[%s] %-7s #%s %s: %s", at.Format(time.TimeOnly), action, order.ID, order.CustomerName, strings.Join(lines, ", ")), true
}
