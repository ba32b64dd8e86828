package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/enersight/peakline/internal/models"
)

// UserReadingStore supplies the recent readings the alerting path scores.
type UserReadingStore interface {
	GetUserReadings(ctx context.Context, userID string, since time.Time) ([]models.SensorReading, error)
}

// NoticeDeduper guards against repeated notices for the same user and day.
// Implemented by the Redis client via SETNX.
type NoticeDeduper interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

// MessageSender delivers an anomaly notice to the operator channel.
type MessageSender interface {
	Send(ctx context.Context, text string) error
}

// TelegramSender delivers notices to a Telegram chat.
type TelegramSender struct {
	bot    *bot.Bot
	chatID int64
}

// NewTelegramSender creates a Telegram-backed sender.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

// Send posts the notice text to the configured chat.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// AnomalyNotifier is the alerting path: it scores a user's recent readings
// and raises at most one anomaly notice per user per day.
type AnomalyNotifier struct {
	store    UserReadingStore
	scorer   *DeviationScorer
	deduper  NoticeDeduper
	sender   MessageSender
	clock    Clock
	dedupTTL time.Duration
	printer  *message.Printer
	logger   *logrus.Logger
}

// NewAnomalyNotifier creates a new anomaly notifier.
func NewAnomalyNotifier(store UserReadingStore, scorer *DeviationScorer, deduper NoticeDeduper, sender MessageSender, clock Clock, dedupTTL time.Duration, logger *logrus.Logger) *AnomalyNotifier {
	if clock == nil {
		clock = SystemClock()
	}
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AnomalyNotifier{
		store:    store,
		scorer:   scorer,
		deduper:  deduper,
		sender:   sender,
		clock:    clock,
		dedupTTL: dedupTTL,
		printer:  message.NewPrinter(language.German),
		logger:   logger,
	}
}

// CheckAndNotify scores the user's last 24 hours of readings and, when they
// contain a noticeable outlier, sends one operator notice. The Redis SETNX
// marker keeps repeated scheduler ticks from notifying twice on the same
// day. Returns whether a notice went out.
func (n *AnomalyNotifier) CheckAndNotify(ctx context.Context, userID string) (bool, error) {
	now := n.clock.Now()

	readings, err := n.store.GetUserReadings(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return false, fmt.Errorf("failed to fetch readings for anomaly check: %w", err)
	}

	if !n.scorer.IsNoticeable(readings) {
		return false, nil
	}

	key := fmt.Sprintf("anomaly_notice:%s:%s", userID, now.Format("2006-01-02"))
	fresh, err := n.deduper.SetNX(ctx, key, 1, n.dedupTTL)
	if err != nil {
		return false, fmt.Errorf("failed to set anomaly dedup marker: %w", err)
	}
	if !fresh {
		// Already notified today.
		return false, nil
	}

	peak := maxReading(readings)
	text := n.printer.Sprintf("Auffälliger Verbrauch für Nutzer %s: Spitzenwert %.1f W in den letzten 24 Stunden.",
		userID, peak.EnergyValue.InexactFloat64())

	if err := n.sender.Send(ctx, text); err != nil {
		n.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("Failed to deliver anomaly notice")
		return false, fmt.Errorf("failed to deliver anomaly notice: %w", err)
	}

	n.logger.WithField("user_id", userID).Info("Anomaly notice sent")
	return true, nil
}

func maxReading(readings []models.SensorReading) models.SensorReading {
	max := readings[0]
	for _, reading := range readings[1:] {
		if reading.EnergyValue.GreaterThan(max.EnergyValue) {
			max = reading
		}
	}
	return max
}
