package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/notify/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

var testCfg = config.Config{
	InvitationTopic: "carrier.invited",
	RequestTopic:    "request.finished",
	FormURL:         "https://rates.example.com/carrier/",
}

func TestCarriersInvited(t *testing.T) {
	fw := &fakeWriter{}
	n := NewNotifierWithWriter(testCfg, fw, zap.NewNop())

	req := model.ShipmentRequest{Number: "100001"}
	req.Data.Origin = model.Address{City: "Dallas", Country: "US"}
	req.Data.Destination = model.Address{City: "Monterrey", Country: "MX"}
	req.Data.ServiceType = model.ServiceFTL
	expires := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	err := n.CarriersInvited(context.Background(), req, []model.CarrierToken{
		{Value: "aaa", Carrier: model.CarrierContact{ID: "c1", Email: "a@example.com"}, ExpiresAt: expires},
		{Value: "bbb", Carrier: model.CarrierContact{ID: "c2", Email: "b@example.com"}, ExpiresAt: expires},
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 2)
	require.Equal(t, "carrier.invited", fw.msgs[0].Topic)
	require.Equal(t, "100001", string(fw.msgs[0].Key))

	var event InvitationEvent
	require.NoError(t, json.Unmarshal(fw.msgs[1].Value, &event))
	require.Equal(t, "https://rates.example.com/carrier/bbb", event.Link)
	require.Equal(t, "Dallas, US", event.Origin)
	require.Equal(t, "ftl", event.Service)
	require.True(t, expires.Equal(event.ExpiresAt))
}

func TestRequestFinished(t *testing.T) {
	fw := &fakeWriter{}
	n := NewNotifierWithWriter(testCfg, fw, zap.NewNop())

	req := model.ShipmentRequest{Number: "100001"}
	req.Data.Status = model.RequestStatusExpired
	req.Data.Error = "no carrier responded"
	req.Data.Owner.UserCode = "u1"

	require.NoError(t, n.RequestFinished(context.Background(), req))
	require.Len(t, fw.msgs, 1)

	var event RequestEvent
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &event))
	require.Equal(t, "expired", event.Status)
	require.Equal(t, "no carrier responded", event.Error)

	fw.err = errors.New("broker down")
	require.Error(t, n.RequestFinished(context.Background(), req))
}

func TestLogOnlyNotifier(t *testing.T) {
	n := NewNotifier(config.Config{}, zap.NewNop())
	require.NoError(t, n.RequestFinished(context.Background(), model.ShipmentRequest{Number: "1"}))
	require.NoError(t, n.Close())
}
