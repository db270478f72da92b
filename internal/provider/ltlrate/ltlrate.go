package ltlrate

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

// JSON запрос тарифа

type rateRequest struct {
	Account     string      `json:"account,omitempty"`
	Origin      rateAddress `json:"origin"`
	Destination rateAddress `json:"destination"`
	PickupDate  string      `json:"pickup_date,omitempty"`
	Items       []rateItem  `json:"items"`
	Accessorial []string    `json:"accessorials,omitempty"`
}

type rateAddress struct {
	Zip     string `json:"zip"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country"`
}

type rateItem struct {
	Pieces    int     `json:"pieces"`
	WeightLBS float64 `json:"weight_lbs"`
	LengthIN  float64 `json:"length_in"`
	WidthIN   float64 `json:"width_in"`
	HeightIN  float64 `json:"height_in"`
	Class     string  `json:"class,omitempty"`
	Hazmat    bool    `json:"hazmat"`
	Stackable bool    `json:"stackable"`
}

// JSON ответ

type rateResponse struct {
	QuoteNumber string       `json:"quote_number"`
	NoRate      bool         `json:"no_rate"`
	Carrier     string       `json:"carrier"`
	Service     string       `json:"service"`
	Currency    string       `json:"currency"`
	TransitDays int          `json:"transit_days"`
	Guaranteed  bool         `json:"guaranteed"`
	Expires     string       `json:"expires"`
	Charges     []rateCharge `json:"charges"`
}

type rateCharge struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// коды строк счета, не относящиеся к доп. услугам
const (
	chargeFreight  = "FRT"
	chargeDiscount = "DSC"
	chargeFuel     = "FSC"
	chargeDocs     = "DOC"
	chargeMisc     = "MSC"
)

type client struct {
	code  string
	creds model.Credentials
	conv  provider.Converter
	http  *resty.Client
}

// New returns a factory for the LTL rate API at baseURL.
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

func (c *client) GetRates(ctx context.Context, req model.ShipmentRequest) (*model.ProviderQuote, error) {
	// без учетных данных тариф не запрашиваем
	if c.creds.Empty() {
		return nil, nil
	}

	body, err := buildRequest(req, c.creds)
	if err != nil {
		return nil, err
	}

	setreq := c.http.R().SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = "/v1/rates"
	setreq.SetHeader("X-Api-Key", c.creds.APIKey)
	setreq.SetBody(body)
	setresp, err := setreq.Send()
	if err != nil {
		return nil, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer rateResponse
		if err = json.Unmarshal(setresp.Body(), &answer); err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrBadResponse, err)
		}
		if answer.NoRate {
			return nil, nil
		}
		quote, err := normalize(answer, c.conv)
		if err != nil {
			return nil, err
		}
		quote.ProviderCode = c.code
		quote.AccountID = c.creds.AccountID
		quote.CustomerOwned = c.creds.CustomerOwned
		return quote, nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("ltl rate request status: %d", setresp.StatusCode())
	}
}

func buildRequest(req model.ShipmentRequest, creds model.Credentials) (rateRequest, error) {
	data := req.Data
	out := rateRequest{
		Account: creds.AccountNo,
		Origin: rateAddress{
			Zip:     data.Origin.PostalCode,
			City:    data.Origin.City,
			State:   data.Origin.State,
			Country: data.Origin.Country,
		},
		Destination: rateAddress{
			Zip:     data.Destination.PostalCode,
			City:    data.Destination.City,
			State:   data.Destination.State,
			Country: data.Destination.Country,
		},
	}
	if !data.PickupDate.IsZero() {
		out.PickupDate = data.PickupDate.Format(time.DateOnly)
	}

	hazmat := false
	for _, p := range data.Cargo.Pieces {
		item := rateItem{Pieces: p.Quantity, Class: p.FreightClass, Hazmat: p.Hazardous, Stackable: p.Stackable}
		var err error
		if item.WeightLBS, err = provider.WeightLB(p.Weight, p.WeightUnit); err != nil {
			return rateRequest{}, err
		}
		if item.LengthIN, err = provider.LengthIN(p.Length, p.DimUnit); err != nil {
			return rateRequest{}, err
		}
		if item.WidthIN, err = provider.LengthIN(p.Width, p.DimUnit); err != nil {
			return rateRequest{}, err
		}
		if item.HeightIN, err = provider.LengthIN(p.Height, p.DimUnit); err != nil {
			return rateRequest{}, err
		}
		hazmat = hazmat || p.Hazardous
		out.Items = append(out.Items, item)
	}
	if hazmat {
		out.Accessorial = append(out.Accessorial, "HAZM")
	}
	return out, nil
}

// normalize maps the itemized charges into the common breakdown and converts
// them to the base currency.
func normalize(answer rateResponse, conv provider.Converter) (*model.ProviderQuote, error) {
	if len(answer.Charges) == 0 {
		return nil, fmt.Errorf("%w: no charges", provider.ErrBadResponse)
	}

	var cost model.CostBreakdown
	for _, ch := range answer.Charges {
		switch strings.ToUpper(ch.Code) {
		case chargeFreight, chargeDiscount:
			cost.Freight = cost.Freight.Add(ch.Amount)
		case chargeFuel:
			cost.Fuel = cost.Fuel.Add(ch.Amount)
		case chargeDocs:
			cost.Documentation = cost.Documentation.Add(ch.Amount)
		case chargeMisc:
			cost.Other = cost.Other.Add(ch.Amount)
		default:
			name := ch.Description
			if name == "" {
				name = ch.Code
			}
			cost.Accessorials = cost.Accessorials.Add(ch.Amount)
			cost.AccessorialItems = append(cost.AccessorialItems, model.CostItem{Name: name, Amount: ch.Amount})
		}
	}
	if cost.Total().IsNegative() {
		return nil, fmt.Errorf("%w: negative total", provider.ErrBadResponse)
	}

	cost, err := conv.CostToBase(cost, answer.Currency)
	if err != nil {
		return nil, err
	}

	quote := &model.ProviderQuote{
		ExternalID:  answer.QuoteNumber,
		Source:      model.QuoteSourceProvider,
		Carrier:     answer.Carrier,
		Service:     answer.Service,
		Cost:        cost,
		Currency:    conv.Base(),
		TransitDays: answer.TransitDays,
		Guaranteed:  answer.Guaranteed,
		Status:      model.QuoteStatusReady,
	}
	if answer.Expires != "" {
		validUntil, err := time.Parse(time.RFC3339, answer.Expires)
		if err != nil {
			return nil, fmt.Errorf("%w: expires %q", provider.ErrBadResponse, answer.Expires)
		}
		quote.ValidUntil = validUntil
	}
	return quote, nil
}
