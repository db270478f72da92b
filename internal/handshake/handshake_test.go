package handshake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iurnickita/freightrate/internal/handshake/config"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestHandshake(t *testing.T, st store.Store) (*handshake, *time.Time) {
	now := t0
	h := NewHandshake(config.Config{TokenTTL: 30 * time.Minute}, st, zap.NewNop()).(*handshake)
	h.now = func() time.Time { return now }
	t.Cleanup(h.Stop)
	return h, &now
}

func testRequest(st store.Store, t *testing.T) model.ShipmentRequest {
	req := model.ShipmentRequest{Number: "100001"}
	req.Data.Mode = model.ModeRoad
	req.Data.ServiceType = model.ServiceFTL
	req.Data.Status = model.RequestStatusProcessing
	require.NoError(t, st.RequestPost(context.Background(), req))
	return req
}

func contacts() []model.CarrierContact {
	return []model.CarrierContact{
		{ID: "c1", Name: "Road Runner Inc", Email: "rr@example.com", Enabled: true},
		{ID: "c2", Name: "Blue Truck", Email: "bt@example.com", Enabled: true},
	}
}

func validPayload() model.CarrierSubmission {
	return model.CarrierSubmission{
		BaseRate:      decimal.NewFromInt(1000),
		FuelSurcharge: decimal.NewFromInt(150),
		TransitDays:   2,
	}
}

func noDeadline(context.Context, string) {}

func TestIssue(t *testing.T) {
	st := store.NewMemoryStore()
	h, _ := newTestHandshake(t, st)
	req := testRequest(st, t)

	tokens, err := h.Issue(context.Background(), req, contacts(), noDeadline)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.NotEqual(t, tokens[0].Value, tokens[1].Value)
	require.Len(t, tokens[0].Value, 64)
	// общий срок у всей рассылки
	require.Equal(t, t0.Add(30*time.Minute), tokens[0].ExpiresAt)
	require.Equal(t, tokens[0].ExpiresAt, tokens[1].ExpiresAt)

	stored, err := st.CarrierTokenGetByRequest(context.Background(), req.Number)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// один таймер на рассылку
	require.Len(t, h.timers, 1)

	_, err = h.Issue(context.Background(), req, nil, noDeadline)
	require.ErrorIs(t, err, ErrNoContacts)
}

func TestValidateOrder(t *testing.T) {
	st := store.NewMemoryStore()
	h, now := newTestHandshake(t, st)
	req := testRequest(st, t)
	ctx := context.Background()

	tokens, err := h.Issue(ctx, req, contacts(), noDeadline)
	require.NoError(t, err)

	_, err = h.Validate(ctx, "unknown", validPayload())
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, err = h.Validate(ctx, tokens[0].Value, model.CarrierSubmission{})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = h.Consume(ctx, tokens[0].Value, validPayload())
	require.NoError(t, err)

	// отправленный и просроченный токен: сначала проверяется отправка
	*now = t0.Add(time.Hour)
	_, err = h.Validate(ctx, tokens[0].Value, model.CarrierSubmission{})
	require.ErrorIs(t, err, ErrTokenAlreadySubmitted)

	// просроченный с плохим телом: сначала проверяется срок
	_, err = h.Validate(ctx, tokens[1].Value, model.CarrierSubmission{})
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestConsumeAfterExpiry(t *testing.T) {
	st := store.NewMemoryStore()
	h, now := newTestHandshake(t, st)
	req := testRequest(st, t)
	ctx := context.Background()

	tokens, err := h.Issue(ctx, req, contacts(), noDeadline)
	require.NoError(t, err)

	*now = t0.Add(31 * time.Minute)
	_, err = h.Consume(ctx, tokens[0].Value, validPayload())
	require.ErrorIs(t, err, ErrTokenExpired)

	token, err := st.CarrierTokenGet(ctx, tokens[0].Value)
	require.NoError(t, err)
	require.False(t, token.Submitted)
}

func TestConsumeExpiresDuringValidation(t *testing.T) {
	st := store.NewMemoryStore()
	h, _ := newTestHandshake(t, st)
	req := testRequest(st, t)
	ctx := context.Background()

	tokens, err := h.Issue(ctx, req, contacts(), noDeadline)
	require.NoError(t, err)

	// проверка видит живую ссылку, запись идет уже после срока
	calls := 0
	h.now = func() time.Time {
		calls++
		if calls == 1 {
			return t0.Add(29 * time.Minute)
		}
		return t0.Add(30 * time.Minute)
	}
	_, err = h.Consume(ctx, tokens[0].Value, validPayload())
	require.ErrorIs(t, err, ErrTokenExpired)

	token, err := st.CarrierTokenGet(ctx, tokens[0].Value)
	require.NoError(t, err)
	require.False(t, token.Submitted)
}

func TestRelease(t *testing.T) {
	st := store.NewMemoryStore()
	h, _ := newTestHandshake(t, st)
	req := testRequest(st, t)
	ctx := context.Background()

	tokens, err := h.Issue(ctx, req, contacts(), noDeadline)
	require.NoError(t, err)

	_, err = h.Consume(ctx, tokens[0].Value, validPayload())
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx, tokens[0].Value))

	_, err = h.Consume(ctx, tokens[0].Value, validPayload())
	require.NoError(t, err)

	require.ErrorIs(t, h.Release(ctx, "missing"), ErrTokenNotFound)
}

func TestConsumeConcurrent(t *testing.T) {
	st := store.NewMemoryStore()
	h, _ := newTestHandshake(t, st)
	req := testRequest(st, t)
	ctx := context.Background()

	tokens, err := h.Issue(ctx, req, contacts(), noDeadline)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Consume(ctx, tokens[0].Value, validPayload())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrTokenAlreadySubmitted):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(9), dup.Load())
}

func TestDeadlineOncePerBatch(t *testing.T) {
	st := store.NewMemoryStore()
	h := NewHandshake(config.Config{TokenTTL: 20 * time.Millisecond}, st, zap.NewNop())
	defer h.Stop()
	req := testRequest(st, t)

	var calls atomic.Int32
	fired := make(chan string, 4)
	_, err := h.Issue(context.Background(), req, contacts(), func(_ context.Context, number string) {
		calls.Add(1)
		fired <- number
	})
	require.NoError(t, err)

	select {
	case number := <-fired:
		require.Equal(t, req.Number, number)
	case <-time.After(2 * time.Second):
		t.Fatal("deadline was not called")
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestResume(t *testing.T) {
	st := store.NewMemoryStore()
	req := testRequest(st, t)
	ctx := context.Background()

	// ссылки выданы до перезапуска и уже истекли
	require.NoError(t, st.CarrierTokenPost(ctx, []model.CarrierToken{
		{Value: "a", RequestNumber: req.Number, ExpiresAt: time.Now().Add(-time.Minute)},
		{Value: "b", RequestNumber: req.Number, ExpiresAt: time.Now().Add(-time.Minute)},
	}))

	h := NewHandshake(config.Config{}, st, zap.NewNop())
	defer h.Stop()

	fired := make(chan string, 2)
	n, err := h.Resume(ctx, func(_ context.Context, number string) { fired <- number })
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case number := <-fired:
		require.Equal(t, req.Number, number)
	case <-time.After(2 * time.Second):
		t.Fatal("deadline was not called")
	}
}

func TestValidatePayload(t *testing.T) {
	require.NoError(t, ValidatePayload(validPayload()))

	bad := []model.CarrierSubmission{
		{TransitDays: 1},
		{BaseRate: decimal.NewFromInt(-5), TransitDays: 1},
		{BaseRate: decimal.NewFromInt(5), FuelSurcharge: decimal.NewFromInt(-1), TransitDays: 1},
		{BaseRate: decimal.NewFromInt(5)},
		{BaseRate: decimal.NewFromInt(5), TransitDays: 1, Accessorials: []model.CostItem{{Amount: decimal.NewFromInt(1)}}},
		{BaseRate: decimal.NewFromInt(5), TransitDays: 1, Accessorials: []model.CostItem{{Name: "Liftgate", Amount: decimal.NewFromInt(-1)}}},
	}
	for _, p := range bad {
		require.ErrorIs(t, ValidatePayload(p), ErrInvalidPayload)
	}
}

func TestManualQuote(t *testing.T) {
	token := model.CarrierToken{Value: "tok", RequestNumber: "100001", Carrier: model.CarrierContact{ID: "c1", Name: "Road Runner Inc"}}

	p := validPayload()
	p.AccessorialsTotal = decimal.NewFromInt(999)
	p.Accessorials = []model.CostItem{
		{Name: "Liftgate", Amount: decimal.RequireFromString("75.50")},
		{Name: "Inside delivery", Amount: decimal.RequireFromString("24.50")},
	}
	p.Guaranteed = true

	q := ManualQuote(token, p, t0)
	require.Equal(t, ProviderCode, q.ProviderCode)
	require.Equal(t, model.QuoteSourceCarrier, q.Source)
	require.Equal(t, "Road Runner Inc", q.Carrier)
	// детализация важнее общей суммы
	require.Equal(t, "100.00", q.Cost.Accessorials.StringFixed(2))
	require.Equal(t, "1250.00", q.Cost.Total().StringFixed(2))
	require.True(t, q.Guaranteed)
	require.NotEmpty(t, q.ID)

	p.Accessorials = nil
	q = ManualQuote(token, p, t0)
	require.Equal(t, "999.00", q.Cost.Accessorials.StringFixed(2))
}
