package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newRequest(number string, status model.RequestStatus) model.ShipmentRequest {
	var req model.ShipmentRequest
	req.Number = number
	req.Data.Mode = model.ModeRoad
	req.Data.ServiceType = model.ServiceFTL
	req.Data.Owner = model.Caller{UserCode: "100001", Organization: "acme", Role: model.RoleCustomer}
	req.Data.Status = status
	req.Data.CreatedAt = time.Now()
	req.Data.UpdatedAt = req.Data.CreatedAt
	return req
}

func TestStoreRequestTransition(t *testing.T) {
	const number = "100001"

	ctx := context.Background()
	store := NewMemoryStore()

	// Создание запроса
	err := store.RequestPost(ctx, newRequest(number, model.RequestStatusRequested))
	require.NoError(t, err)
	err = store.RequestPost(ctx, newRequest(number, model.RequestStatusRequested))
	require.ErrorIs(t, err, ErrAlreadyExists)

	// requested -> ready запрещен
	err = store.RequestTransition(ctx, number, model.RequestStatusReady, "")
	require.ErrorIs(t, err, ErrTransition)

	require.NoError(t, store.RequestTransition(ctx, number, model.RequestStatusProcessing, ""))
	require.NoError(t, store.RequestTransition(ctx, number, model.RequestStatusExpired, "no carriers"))

	req, err := store.RequestGet(ctx, number)
	require.NoError(t, err)
	require.Equal(t, model.RequestStatusExpired, req.Data.Status)
	require.Equal(t, "no carriers", req.Data.Error)

	// из expired выхода нет
	err = store.RequestTransition(ctx, number, model.RequestStatusReady, "")
	require.ErrorIs(t, err, ErrTransition)

	err = store.RequestTransition(ctx, "999", model.RequestStatusProcessing, "")
	require.ErrorIs(t, err, ErrNoRows)
}

func TestStoreQuoteRanking(t *testing.T) {
	const number = "100002"

	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b"} {
		q := model.PricedQuote{Quote: model.ProviderQuote{ID: id, RequestNumber: number}}
		q.Pricing.Total = decimal.NewFromInt(100)
		require.NoError(t, store.QuotePost(ctx, q))
	}

	err := store.QuotePutRanking(ctx, number, []model.PricedQuote{
		{Quote: model.ProviderQuote{ID: "a"}, Flags: model.RankFlags{Cheapest: true, Recommended: true}},
		{Quote: model.ProviderQuote{ID: "b"}, Flags: model.RankFlags{Fastest: true}},
	})
	require.NoError(t, err)

	quotes, err := store.QuoteGet(ctx, number)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.True(t, quotes[0].Flags.Recommended)
	require.True(t, quotes[1].Flags.Fastest)
	require.False(t, quotes[1].Flags.Recommended)
}

func TestStoreCarrierTokenConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.RequestPost(ctx, newRequest("100003", model.RequestStatusProcessing)))

	deadline := time.Now().Add(30 * time.Minute)
	err := store.CarrierTokenPost(ctx, []model.CarrierToken{
		{Value: "t1", RequestNumber: "100003", ExpiresAt: deadline},
		{Value: "t2", RequestNumber: "100003", ExpiresAt: deadline},
	})
	require.NoError(t, err)

	// одновременная отправка: успешна только одна
	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := store.CarrierTokenConsume(ctx, "t1", time.Now()); err {
			case nil:
				ok.Add(1)
			case ErrAlreadySubmitted:
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(19), dup.Load())

	require.ErrorIs(t, store.CarrierTokenConsume(ctx, "missing", time.Now()), ErrNoRows)

	token, err := store.CarrierTokenGet(ctx, "t1")
	require.NoError(t, err)
	require.True(t, token.Submitted)

	// на границе срока ссылка уже не принимается
	require.ErrorIs(t, store.CarrierTokenConsume(ctx, "t2", deadline), ErrTokenExpired)
	token, err = store.CarrierTokenGet(ctx, "t2")
	require.NoError(t, err)
	require.False(t, token.Submitted)

	// откат отправки
	require.NoError(t, store.CarrierTokenRelease(ctx, "t1"))
	token, err = store.CarrierTokenGet(ctx, "t1")
	require.NoError(t, err)
	require.False(t, token.Submitted)
	require.True(t, token.SubmittedAt.IsZero())
	require.NoError(t, store.CarrierTokenConsume(ctx, "t1", time.Now()))
	require.ErrorIs(t, store.CarrierTokenRelease(ctx, "missing"), ErrNoRows)

	batches, err := store.CarrierTokenBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "100003", batches[0].RequestNumber)
	require.True(t, batches[0].Deadline.Equal(deadline))

	// запрос завершен - дедлайн больше не нужен
	require.NoError(t, store.RequestTransition(ctx, "100003", model.RequestStatusReady, ""))
	batches, err = store.CarrierTokenBatches(ctx)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestStorePollJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	require.NoError(t, store.PollJobPost(ctx, model.PollJob{ID: "j2", RequestNumber: "1", Status: model.PollJobPending, NextPollAt: now.Add(time.Minute)}))
	require.NoError(t, store.PollJobPost(ctx, model.PollJob{ID: "j1", RequestNumber: "1", Status: model.PollJobPending, NextPollAt: now}))
	require.ErrorIs(t, store.PollJobPut(ctx, model.PollJob{ID: "j3"}), ErrNoRows)

	jobs, err := store.PollJobGetPending(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "j1", jobs[0].ID)

	jobs[0].Status = model.PollJobReady
	require.NoError(t, store.PollJobPut(ctx, jobs[0]))

	jobs, err = store.PollJobGetPending(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = store.PollJobGetByRequest(ctx, "1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestStoreCarrierContacts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CarrierContactPut(ctx, model.CarrierContact{ID: "c1", Enabled: true, Modes: []model.ServiceType{model.ServiceFTL}}))
	require.NoError(t, store.CarrierContactPut(ctx, model.CarrierContact{ID: "c2", Enabled: false, Modes: []model.ServiceType{model.ServiceFTL}}))
	require.NoError(t, store.CarrierContactPut(ctx, model.CarrierContact{ID: "c3", Enabled: true, Modes: []model.ServiceType{model.ServiceExpedited}}))

	contacts, err := store.CarrierContactGet(ctx, model.ServiceFTL)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.Equal(t, "c1", contacts[0].ID)
}
