package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/provider"
	"github.com/shopspring/decimal"
)

// JSON запрос котировки

type submitRequest struct {
	Mode        string        `json:"mode"`
	Origin      place         `json:"origin"`
	Destination place         `json:"destination"`
	ReadyDate   string        `json:"ready_date,omitempty"`
	Cargo       []cargoLine   `json:"cargo"`
	Reference   string        `json:"reference"`
	Account     string        `json:"account,omitempty"`
	Options     submitOptions `json:"options"`
}

type place struct {
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

type cargoLine struct {
	Quantity       int     `json:"quantity"`
	GrossWeightKG  float64 `json:"gross_weight_kg"`
	LengthCM       float64 `json:"length_cm"`
	WidthCM        float64 `json:"width_cm"`
	HeightCM       float64 `json:"height_cm"`
	DangerousGoods bool    `json:"dangerous_goods"`
	Stackable      bool    `json:"stackable"`
}

type submitOptions struct {
	TotalWeightKG float64 `json:"total_weight_kg"`
}

type submitAnswer struct {
	ID string `json:"id"`
}

// JSON ответ на опрос

type pollAnswer struct {
	ID            string  `json:"id"`
	State         string  `json:"state"`
	FailureReason string  `json:"failure_reason"`
	Offers        []offer `json:"offers"`
}

type offer struct {
	OfferID      string  `json:"offer_id"`
	CarrierName  string  `json:"carrier_name"`
	ServiceLevel string  `json:"service_level"`
	Currency     string  `json:"currency"`
	Charges      charges `json:"charges"`
	TransitTime  transit `json:"transit_time"`
	ValidUntil   string  `json:"valid_until"`
}

type charges struct {
	Freight       decimal.Decimal `json:"freight"`
	Fuel          decimal.Decimal `json:"fuel"`
	Security      decimal.Decimal `json:"security"`
	Handling      decimal.Decimal `json:"handling"`
	Documentation decimal.Decimal `json:"documentation"`
	Other         decimal.Decimal `json:"other"`
}

type transit struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}

const (
	StateQueued     = "QUEUED"
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
)

type client struct {
	code  string
	creds model.Credentials
	conv  provider.Converter
	http  *resty.Client
}

// New returns a factory for the forwarder quote API at baseURL.
func New(code, baseURL string, conv provider.Converter) provider.Factory {
	return func(creds model.Credentials) (provider.Provider, error) {
		if baseURL == "" {
			return nil, fmt.Errorf("%s: empty base url", code)
		}
		return &client{
			code:  code,
			creds: creds,
			conv:  conv,
			http:  resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")),
		}, nil
	}
}

func (c *client) Code() string {
	return c.code
}

// GetRates always declines: the forwarder only answers through Submit and Poll.
func (c *client) GetRates(context.Context, model.ShipmentRequest) (*model.ProviderQuote, error) {
	return nil, nil
}

func (c *client) Submit(ctx context.Context, req model.ShipmentRequest) (string, error) {
	// без учетных данных запрос не отправляем
	if c.creds.Empty() {
		return "", nil
	}
	body, err := buildSubmit(req, c.creds)
	if err != nil {
		return "", err
	}

	setreq := c.http.R().SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = "/api/v2/quote-requests"
	setreq.SetAuthToken(c.creds.APIKey)
	setreq.SetBody(body)
	setresp, err := setreq.Send()
	if err != nil {
		return "", err
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		var answer submitAnswer
		if err = json.Unmarshal(setresp.Body(), &answer); err != nil {
			return "", fmt.Errorf("%w: %v", provider.ErrBadResponse, err)
		}
		if answer.ID == "" {
			return "", fmt.Errorf("%w: empty request id", provider.ErrBadResponse)
		}
		return answer.ID, nil
	default:
		return "", fmt.Errorf("forwarder submit status: %d", setresp.StatusCode())
	}
}

func (c *client) Poll(ctx context.Context, trackingID string) (provider.PollResult, error) {
	setreq := c.http.R().SetContext(ctx)
	setreq.Method = http.MethodGet
	setreq.URL = "/api/v2/quote-requests/" + trackingID
	setreq.SetAuthToken(c.creds.APIKey)
	setresp, err := setreq.Send()
	if err != nil {
		return provider.PollResult{}, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer pollAnswer
		if err = json.Unmarshal(setresp.Body(), &answer); err != nil {
			return provider.PollResult{}, fmt.Errorf("%w: %v", provider.ErrBadResponse, err)
		}
		return c.pollResult(answer)
	case http.StatusNotFound:
		return provider.PollResult{Status: provider.PollStatusFailed, Reason: "quote request " + trackingID + " not found"}, nil
	default:
		return provider.PollResult{}, fmt.Errorf("forwarder poll status: %d", setresp.StatusCode())
	}
}

func (c *client) pollResult(answer pollAnswer) (provider.PollResult, error) {
	switch answer.State {
	case StateQueued, StateInProgress:
		return provider.PollResult{Status: provider.PollStatusPending}, nil
	case StateFailed:
		return provider.PollResult{Status: provider.PollStatusFailed, Reason: answer.FailureReason}, nil
	case StateCompleted:
		result := provider.PollResult{Status: provider.PollStatusReady}
		for _, o := range answer.Offers {
			quote, err := normalize(o, c.conv)
			if err != nil {
				return provider.PollResult{}, err
			}
			quote.ProviderCode = c.code
			quote.AccountID = c.creds.AccountID
			quote.CustomerOwned = c.creds.CustomerOwned
			result.Quotes = append(result.Quotes, quote)
		}
		return result, nil
	default:
		return provider.PollResult{}, fmt.Errorf("%w: state %q", provider.ErrBadResponse, answer.State)
	}
}

func buildSubmit(req model.ShipmentRequest, creds model.Credentials) (submitRequest, error) {
	data := req.Data
	out := submitRequest{
		Mode:        strings.ToUpper(string(data.Mode)),
		Origin:      place{City: data.Origin.City, PostalCode: data.Origin.PostalCode, Country: data.Origin.Country},
		Destination: place{City: data.Destination.City, PostalCode: data.Destination.PostalCode, Country: data.Destination.Country},
		Reference:   req.Number,
		Account:     creds.AccountNo,
	}
	if !data.PickupDate.IsZero() {
		out.ReadyDate = data.PickupDate.Format(time.DateOnly)
	}
	for _, p := range data.Cargo.Pieces {
		line := cargoLine{Quantity: p.Quantity, DangerousGoods: p.Hazardous, Stackable: p.Stackable}
		var err error
		if line.GrossWeightKG, err = provider.WeightKG(p.Weight, p.WeightUnit); err != nil {
			return submitRequest{}, err
		}
		if line.LengthCM, err = provider.LengthCM(p.Length, p.DimUnit); err != nil {
			return submitRequest{}, err
		}
		if line.WidthCM, err = provider.LengthCM(p.Width, p.DimUnit); err != nil {
			return submitRequest{}, err
		}
		if line.HeightCM, err = provider.LengthCM(p.Height, p.DimUnit); err != nil {
			return submitRequest{}, err
		}
		out.Cargo = append(out.Cargo, line)
	}
	total, err := provider.TotalWeightKG(data.Cargo)
	if err != nil {
		return submitRequest{}, err
	}
	out.Options.TotalWeightKG = total
	return out, nil
}

// normalize converts one offer; transit uses the upper bound of the range.
func normalize(o offer, conv provider.Converter) (model.ProviderQuote, error) {
	cost := model.CostBreakdown{
		Freight:       o.Charges.Freight,
		Fuel:          o.Charges.Fuel,
		Accessorials:  o.Charges.Security.Add(o.Charges.Handling),
		Documentation: o.Charges.Documentation,
		Other:         o.Charges.Other,
	}
	if !o.Charges.Security.IsZero() {
		cost.AccessorialItems = append(cost.AccessorialItems, model.CostItem{Name: "Security", Amount: o.Charges.Security})
	}
	if !o.Charges.Handling.IsZero() {
		cost.AccessorialItems = append(cost.AccessorialItems, model.CostItem{Name: "Handling", Amount: o.Charges.Handling})
	}
	cost, err := conv.CostToBase(cost, o.Currency)
	if err != nil {
		return model.ProviderQuote{}, err
	}

	days := o.TransitTime.MaxDays
	if days == 0 {
		days = o.TransitTime.MinDays
	}
	quote := model.ProviderQuote{
		ExternalID:  o.OfferID,
		Source:      model.QuoteSourceProvider,
		Carrier:     o.CarrierName,
		Service:     o.ServiceLevel,
		Cost:        cost,
		Currency:    conv.Base(),
		TransitDays: days,
		Status:      model.QuoteStatusReady,
	}
	if o.ValidUntil != "" {
		validUntil, err := time.Parse(time.RFC3339, o.ValidUntil)
		if err != nil {
			return model.ProviderQuote{}, fmt.Errorf("%w: valid_until %q", provider.ErrBadResponse, o.ValidUntil)
		}
		quote.ValidUntil = validUntil
	}
	return quote, nil
}
