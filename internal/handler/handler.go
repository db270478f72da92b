package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iurnickita/freightrate/internal/auth"
	"github.com/iurnickita/freightrate/internal/gzip"
	"github.com/iurnickita/freightrate/internal/handler/config"
	"github.com/iurnickita/freightrate/internal/handshake"
	"github.com/iurnickita/freightrate/internal/logger"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Serve listens until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, reqLogger *logger.RequestLogger, zaplog *zap.Logger) error {
	h := newHandler(auth, service, reqLogger, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zaplog.Error("server shutdown", zap.Error(err))
		}
	}()

	zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type handler struct {
	auth      auth.Auth
	service   service.Service
	reqLogger *logger.RequestLogger
	zaplog    *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, reqLogger *logger.RequestLogger, zaplog *zap.Logger) *handler {
	return &handler{
		auth:      auth,
		service:   service,
		reqLogger: reqLogger,
		zaplog:    zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/quotes", gzip.GzipMiddleware(h.reqLogger.Middleware(h.auth.Middleware(h.PostQuote))))
	mux.HandleFunc("GET /api/quotes/{number}", gzip.GzipMiddleware(h.reqLogger.Middleware(h.auth.Middleware(h.GetQuote))))
	// перевозчик авторизуется самой ссылкой
	mux.HandleFunc("GET /api/carrier/quotes/{token}", gzip.GzipMiddleware(h.reqLogger.Middleware(h.GetCarrierRequest)))
	mux.HandleFunc("POST /api/carrier/quotes/{token}", gzip.GzipMiddleware(h.reqLogger.Middleware(h.PostCarrierQuote)))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func readJSON(r *http.Request, v any) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return err
	}
	return json.Unmarshal(buf.Bytes(), v)
}

// Запрос на расчет

type AddressJSON struct {
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

type PieceJSON struct {
	Quantity     int     `json:"quantity"`
	Weight       float64 `json:"weight"`
	WeightUnit   string  `json:"weight_unit"`
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	DimUnit      string  `json:"dim_unit"`
	Stackable    bool    `json:"stackable,omitempty"`
	Hazardous    bool    `json:"hazardous,omitempty"`
	FreightClass string  `json:"freight_class,omitempty"`
}

type PostQuoteJSONRequest struct {
	Origin       AddressJSON `json:"origin"`
	Destination  AddressJSON `json:"destination"`
	Mode         string      `json:"mode"`
	ServiceType  string      `json:"service_type,omitempty"`
	PickupDate   string      `json:"pickup_date,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	Cargo        []PieceJSON `json:"cargo"`
}

type PostQuoteJSONResponse struct {
	Number string `json:"number"`
	Status string `json:"status"`
}

func addressFromJSON(a AddressJSON) model.Address {
	return model.Address{City: a.City, State: a.State, PostalCode: a.PostalCode, Country: a.Country}
}

func addressToJSON(a model.Address) AddressJSON {
	return AddressJSON{City: a.City, State: a.State, PostalCode: a.PostalCode, Country: a.Country}
}

func (req PostQuoteJSONRequest) data() (model.ShipmentRequestData, error) {
	data := model.ShipmentRequestData{
		Origin:       addressFromJSON(req.Origin),
		Destination:  addressFromJSON(req.Destination),
		Mode:         model.Mode(req.Mode),
		ServiceType:  model.ServiceType(req.ServiceType),
		Instructions: req.Instructions,
	}
	if req.PickupDate != "" {
		pickup, err := time.Parse(time.DateOnly, req.PickupDate)
		if err != nil {
			return data, err
		}
		data.PickupDate = pickup
	}
	for _, p := range req.Cargo {
		data.Cargo.Pieces = append(data.Cargo.Pieces, model.Piece{
			Quantity:     p.Quantity,
			Weight:       p.Weight,
			WeightUnit:   model.WeightUnit(p.WeightUnit),
			Length:       p.Length,
			Width:        p.Width,
			Height:       p.Height,
			DimUnit:      model.DimUnit(p.DimUnit),
			Stackable:    p.Stackable,
			Hazardous:    p.Hazardous,
			FreightClass: p.FreightClass,
		})
	}
	return data, nil
}

func cargoToJSON(cargo model.Cargo) []PieceJSON {
	pieces := make([]PieceJSON, 0, len(cargo.Pieces))
	for _, p := range cargo.Pieces {
		pieces = append(pieces, PieceJSON{
			Quantity:     p.Quantity,
			Weight:       p.Weight,
			WeightUnit:   string(p.WeightUnit),
			Length:       p.Length,
			Width:        p.Width,
			Height:       p.Height,
			DimUnit:      string(p.DimUnit),
			Stackable:    p.Stackable,
			Hazardous:    p.Hazardous,
			FreightClass: p.FreightClass,
		})
	}
	return pieces
}

func (h *handler) PostQuote(w http.ResponseWriter, r *http.Request) {
	var quoteJSON PostQuoteJSONRequest
	if err := readJSON(r, &quoteJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := quoteJSON.data()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, err := h.service.CreateQuote(r.Context(), auth.CallerFromRequest(r), data)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData), errors.Is(err, service.ErrInvalidRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.zaplog.Error("create quote", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, PostQuoteJSONResponse{Number: req.Number, Status: string(req.Data.Status)})
}

// Результат расчета

type FeeJSON struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type QuoteJSON struct {
	ID          string          `json:"id"`
	Provider    string          `json:"provider"`
	Carrier     string          `json:"carrier,omitempty"`
	Service     string          `json:"service,omitempty"`
	Source      string          `json:"source"`
	TransitDays int             `json:"transit_days"`
	Guaranteed  bool            `json:"guaranteed"`
	Currency    string          `json:"currency"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Fees        []FeeJSON       `json:"fees,omitempty"`
	// себестоимость видна только тем, кому она положена
	RawCost     *decimal.Decimal `json:"raw_cost,omitempty"`
	Cheapest    bool             `json:"cheapest"`
	Fastest     bool             `json:"fastest"`
	Recommended bool             `json:"recommended"`
}

type GetQuoteJSONResponse struct {
	Number    string      `json:"number"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Quotes    []QuoteJSON `json:"quotes"`
}

func quoteToJSON(q model.PricedQuote) QuoteJSON {
	quoteJSON := QuoteJSON{
		ID:          q.Quote.ID,
		Provider:    q.Quote.ProviderCode,
		Carrier:     q.Quote.Carrier,
		Service:     q.Quote.Service,
		Source:      string(q.Quote.Source),
		TransitDays: q.Quote.TransitDays,
		Guaranteed:  q.Quote.Guaranteed,
		Currency:    q.Quote.Currency,
		Total:       q.Pricing.Total.Round(2),
		Cheapest:    q.Flags.Cheapest,
		Fastest:     q.Flags.Fastest,
		Recommended: q.Flags.Recommended,
	}
	if !q.Quote.ValidUntil.IsZero() {
		validUntil := q.Quote.ValidUntil
		quoteJSON.ValidUntil = &validUntil
	}
	for _, fee := range q.Pricing.Fees {
		quoteJSON.Fees = append(quoteJSON.Fees, FeeJSON{Name: fee.Name, Amount: fee.Amount})
	}
	if q.Pricing.DirectCost {
		rawCost := q.Pricing.RawCost
		quoteJSON.RawCost = &rawCost
	}
	return quoteJSON
}

func (h *handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	res, err := h.service.GetQuote(r.Context(), auth.CallerFromRequest(r), number)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnprocessableEntity):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.zaplog.Error("get quote", zap.String("request", number), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	resJSON := GetQuoteJSONResponse{
		Number:    res.Request.Number,
		Status:    string(res.Request.Data.Status),
		Error:     res.Request.Data.Error,
		CreatedAt: res.Request.Data.CreatedAt,
		Quotes:    make([]QuoteJSON, 0, len(res.Quotes)),
	}
	for _, q := range res.Quotes {
		resJSON.Quotes = append(resJSON.Quotes, quoteToJSON(q))
	}
	writeJSON(w, http.StatusOK, resJSON)
}

// Перевозчики

type GetCarrierRequestJSONResponse struct {
	RequestNumber string      `json:"request_number"`
	State         string      `json:"state"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Carrier       string      `json:"carrier"`
	Origin        AddressJSON `json:"origin"`
	Destination   AddressJSON `json:"destination"`
	ServiceType   string      `json:"service_type"`
	PickupDate    string      `json:"pickup_date,omitempty"`
	Instructions  string      `json:"instructions,omitempty"`
	Cargo         []PieceJSON `json:"cargo"`
}

func carrierErrorStatus(err error) int {
	var cfgErr *service.ConfigurationError
	switch {
	case errors.Is(err, handshake.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, handshake.ErrTokenAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, handshake.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, handshake.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) GetCarrierRequest(w http.ResponseWriter, r *http.Request) {
	cr, err := h.service.GetCarrierRequest(r.Context(), r.PathValue("token"))
	if err != nil {
		http.Error(w, err.Error(), carrierErrorStatus(err))
		return
	}

	data := cr.Request.Data
	resJSON := GetCarrierRequestJSONResponse{
		RequestNumber: cr.Request.Number,
		State:         string(cr.State),
		ExpiresAt:     cr.Token.ExpiresAt,
		Carrier:       cr.Token.Carrier.Name,
		Origin:        addressToJSON(data.Origin),
		Destination:   addressToJSON(data.Destination),
		ServiceType:   string(data.ServiceType),
		Instructions:  data.Instructions,
		Cargo:         cargoToJSON(data.Cargo),
	}
	if !data.PickupDate.IsZero() {
		resJSON.PickupDate = data.PickupDate.Format(time.DateOnly)
	}
	writeJSON(w, http.StatusOK, resJSON)
}

type PostCarrierQuoteJSONRequest struct {
	BaseRate          decimal.Decimal `json:"base_rate"`
	FuelSurcharge     decimal.Decimal `json:"fuel_surcharge"`
	Accessorials      []FeeJSON       `json:"accessorials,omitempty"`
	AccessorialsTotal decimal.Decimal `json:"accessorials_total"`
	TransitDays       int             `json:"transit_days"`
	Guaranteed        bool            `json:"guaranteed"`
	Notes             string          `json:"notes,omitempty"`
}

type PostCarrierQuoteJSONResponse struct {
	RequestNumber string          `json:"request_number"`
	QuoteID       string          `json:"quote_id"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
}

func (h *handler) PostCarrierQuote(w http.ResponseWriter, r *http.Request) {
	value := r.PathValue("token")

	var submitJSON PostCarrierQuoteJSONRequest
	if err := readJSON(r, &submitJSON); err != nil {
		// сначала состояние ссылки, потом тело
		cr, tokenErr := h.service.GetCarrierRequest(r.Context(), value)
		if tokenErr == nil {
			tokenErr = cr.Err()
		}
		if tokenErr != nil {
			http.Error(w, tokenErr.Error(), carrierErrorStatus(tokenErr))
			return
		}
		err = fmt.Errorf("%w: %v", handshake.ErrInvalidPayload, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload := model.CarrierSubmission{
		BaseRate:          submitJSON.BaseRate,
		FuelSurcharge:     submitJSON.FuelSurcharge,
		AccessorialsTotal: submitJSON.AccessorialsTotal,
		TransitDays:       submitJSON.TransitDays,
		Guaranteed:        submitJSON.Guaranteed,
		Notes:             submitJSON.Notes,
	}
	for _, a := range submitJSON.Accessorials {
		payload.Accessorials = append(payload.Accessorials, model.CostItem{Name: a.Name, Amount: a.Amount})
	}

	priced, err := h.service.SubmitCarrierQuote(r.Context(), value, payload)
	if err != nil {
		status := carrierErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.zaplog.Error("carrier quote", zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, PostCarrierQuoteJSONResponse{
		RequestNumber: priced.Quote.RequestNumber,
		QuoteID:       priced.Quote.ID,
		Total:         priced.Pricing.Total.Round(2),
		Currency:      priced.Quote.Currency,
	})
}
