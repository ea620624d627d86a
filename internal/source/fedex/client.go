// Package fedex requests shipping rate quotes from the FedEx REST API.
package fedex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

const (
	tokenPath = "/oauth/token"
	ratePath  = "/rate/v1/rates/quotes"

	defaultTokenSafety = 60 * time.Second
	defaultTimeout     = 30 * time.Second
)

// ErrNoRates is returned when the quote response lists no rated services.
var ErrNoRates = errors.New("fedex: no rates returned")

// Config holds API credentials and the fixed shipper address.
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	AccountNumber string
	// TokenSafety is subtracted from the token lifetime before it is reused.
	TokenSafety    time.Duration
	Timeout        time.Duration
	ShipperPostal  string
	ShipperCountry string
}

// Address is a postal destination.
type Address struct {
	PostalCode  string
	CountryCode string
}

// QuoteRequest asks for the price of one parcel.
type QuoteRequest struct {
	Recipient Address
	WeightKG  decimal.Decimal
}

// Quote is the cheapest rated service for a request.
type Quote struct {
	ServiceType string          `json:"service_type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// Client is safe for concurrent use; the bearer token is shared.
type Client struct {
	http    *source.HTTPClient
	baseURL string
	cfg     Config
}

// New builds a Client. base supplies the underlying transport for both the
// token and the rate endpoints; nil selects http.DefaultClient.
func New(ctx context.Context, cfg Config, base *http.Client, limiter source.Waiter) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	if cfg.TokenSafety <= 0 {
		cfg.TokenSafety = defaultTokenSafety
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	tokens := oauth2.ReuseTokenSourceWithExpiry(nil, &tokenFetcher{ctx: tokenCtx, cfg: cc}, cfg.TokenSafety)

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	authed := &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: transport},
		Timeout:   cfg.Timeout,
	}
	return &Client{
		http:    source.NewHTTPClient(authed, limiter, source.HTTPClientConfig{}),
		baseURL: baseURL,
		cfg:     cfg,
	}
}

// tokenFetcher requests a fresh token on every call and leaves caching to
// the reuse source wrapped around it.
type tokenFetcher struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (f *tokenFetcher) Token() (*oauth2.Token, error) {
	tok, err := f.cfg.Token(f.ctx)
	if err == nil {
		return tok, nil
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		return nil, &catalog.UpstreamError{
			Status: retrieve.Response.StatusCode,
			URL:    f.cfg.TokenURL,
			Body:   string(retrieve.Body),
		}
	}
	return nil, &catalog.UpstreamError{URL: f.cfg.TokenURL, Body: err.Error()}
}

type rateAddress struct {
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
}

type rateParty struct {
	Address rateAddress `json:"address"`
}

type rateWeight struct {
	Units string          `json:"units"`
	Value decimal.Decimal `json:"value"`
}

type ratePackage struct {
	Weight rateWeight `json:"weight"`
}

type rateRequest struct {
	AccountNumber struct {
		Value string `json:"value"`
	} `json:"accountNumber"`
	RequestedShipment struct {
		Shipper                   rateParty     `json:"shipper"`
		Recipient                 rateParty     `json:"recipient"`
		PickupType                string        `json:"pickupType"`
		RateRequestType           []string      `json:"rateRequestType"`
		RequestedPackageLineItems []ratePackage `json:"requestedPackageLineItems"`
	} `json:"requestedShipment"`
}

type rateResponse struct {
	Output struct {
		RateReplyDetails []struct {
			ServiceType          string `json:"serviceType"`
			RatedShipmentDetails []struct {
				TotalNetCharge decimal.Decimal `json:"totalNetCharge"`
				Currency       string          `json:"currency"`
			} `json:"ratedShipmentDetails"`
		} `json:"rateReplyDetails"`
	} `json:"output"`
}

// RateQuote returns the cheapest service for the parcel described by req.
func (c *Client) RateQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.Recipient.CountryCode == "" || req.Recipient.PostalCode == "" {
		return Quote{}, errors.New("fedex: recipient country and postal code are required")
	}
	if !req.WeightKG.IsPositive() {
		return Quote{}, fmt.Errorf("fedex: weight must be positive, got %s", req.WeightKG)
	}

	var body rateRequest
	body.AccountNumber.Value = c.cfg.AccountNumber
	shipment := &body.RequestedShipment
	shipment.Shipper.Address = rateAddress{PostalCode: c.cfg.ShipperPostal, CountryCode: c.cfg.ShipperCountry}
	shipment.Recipient.Address = rateAddress{PostalCode: req.Recipient.PostalCode, CountryCode: req.Recipient.CountryCode}
	shipment.PickupType = "DROPOFF_AT_FEDEX_LOCATION"
	shipment.RateRequestType = []string{"ACCOUNT"}
	shipment.RequestedPackageLineItems = []ratePackage{{Weight: rateWeight{Units: "KG", Value: req.WeightKG}}}

	var resp rateResponse
	if err := c.http.PostJSON(ctx, c.baseURL+ratePath, body, &resp); err != nil {
		return Quote{}, fmt.Errorf("fedex rate quote: %w", err)
	}

	var best Quote
	found := false
	for _, detail := range resp.Output.RateReplyDetails {
		for _, rated := range detail.RatedShipmentDetails {
			if !found || rated.TotalNetCharge.LessThan(best.Amount) {
				best = Quote{ServiceType: detail.ServiceType, Amount: rated.TotalNetCharge, Currency: rated.Currency}
				found = true
			}
		}
	}
	if !found {
		return Quote{}, ErrNoRates
	}
	return best, nil
}
