package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/notify/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier publishes events for the mail and messaging services.
type Notifier interface {
	CarriersInvited(ctx context.Context, req model.ShipmentRequest, tokens []model.CarrierToken) error
	RequestFinished(ctx context.Context, req model.ShipmentRequest) error
	Close() error
}

// Writer is the part of kafka.Writer the notifier uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// События

type InvitationEvent struct {
	RequestNumber string    `json:"request_number"`
	CarrierID     string    `json:"carrier_id"`
	CarrierName   string    `json:"carrier_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Link          string    `json:"link"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Service       string    `json:"service"`
	PickupDate    string    `json:"pickup_date,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type RequestEvent struct {
	RequestNumber string    `json:"request_number"`
	UserCode      string    `json:"user_code"`
	Organization  string    `json:"organization"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

type notifier struct {
	cfg    config.Config
	writer Writer
	zaplog *zap.Logger
}

// NewNotifier returns a Kafka publisher, or a log-only notifier when no
// brokers are configured.
func NewNotifier(cfg config.Config, zaplog *zap.Logger) Notifier {
	if len(cfg.Brokers) == 0 {
		return &notifier{cfg: cfg, zaplog: zaplog}
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return NewNotifierWithWriter(cfg, w, zaplog)
}

func NewNotifierWithWriter(cfg config.Config, w Writer, zaplog *zap.Logger) Notifier {
	return &notifier{cfg: cfg, writer: w, zaplog: zaplog}
}

func (n *notifier) link(token string) string {
	return strings.TrimRight(n.cfg.FormURL, "/") + "/" + token
}

func place(a model.Address) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{a.City, a.PostalCode, a.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (n *notifier) CarriersInvited(ctx context.Context, req model.ShipmentRequest, tokens []model.CarrierToken) error {
	msgs := make([]kafka.Message, 0, len(tokens))
	for _, t := range tokens {
		event := InvitationEvent{
			RequestNumber: req.Number,
			CarrierID:     t.Carrier.ID,
			CarrierName:   t.Carrier.Name,
			Email:         t.Carrier.Email,
			Phone:         t.Carrier.Phone,
			Link:          n.link(t.Value),
			Origin:        place(req.Data.Origin),
			Destination:   place(req.Data.Destination),
			Service:       string(req.Data.ServiceType),
			ExpiresAt:     t.ExpiresAt,
		}
		if !req.Data.PickupDate.IsZero() {
			event.PickupDate = req.Data.PickupDate.Format(time.DateOnly)
		}
		value, err := json.Marshal(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Topic: n.cfg.InvitationTopic, Key: []byte(req.Number), Value: value})
	}
	return n.write(ctx, "carriers invited", req.Number, msgs)
}

func (n *notifier) RequestFinished(ctx context.Context, req model.ShipmentRequest) error {
	value, err := json.Marshal(RequestEvent{
		RequestNumber: req.Number,
		UserCode:      req.Data.Owner.UserCode,
		Organization:  req.Data.Owner.Organization,
		Status:        string(req.Data.Status),
		Error:         req.Data.Error,
		At:            req.Data.UpdatedAt,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{Topic: n.cfg.RequestTopic, Key: []byte(req.Number), Value: value}
	return n.write(ctx, "request finished", req.Number, []kafka.Message{msg})
}

func (n *notifier) write(ctx context.Context, event, number string, msgs []kafka.Message) error {
	if n.writer == nil {
		n.zaplog.Info(event, zap.String("request", number), zap.Int("messages", len(msgs)))
		return nil
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		n.zaplog.Error("kafka write error", zap.String("event", event), zap.String("request", number), zap.Error(err))
		return err
	}
	return nil
}

func (n *notifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
