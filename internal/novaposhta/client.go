// Package novaposhta looks up Nova Poshta cities and warehouses for the
// return delivery form and tracks parcels by waybill number.
package novaposhta

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/runferry/portal/internal/cache"
	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/upstream"
	"github.com/runferry/portal/model"
)

const (
	minQueryLength = 2
	cityLimit      = 20
	warehouseLimit = 50
)

// City is a settlement Nova Poshta delivers to.
type City struct {
	Ref         string `json:"ref"`
	Description string `json:"description"`
	Area        string `json:"area"`
}

// Warehouse is a Nova Poshta branch or parcel locker.
type Warehouse struct {
	Ref             string `json:"ref"`
	Description     string `json:"description"`
	Number          string `json:"number"`
	CityRef         string `json:"cityRef"`
	CityDescription string `json:"cityDescription"`
	TypeOfWarehouse string `json:"typeOfWarehouse"`
}

// TrackingStatus is the current state of a parcel.
type TrackingStatus struct {
	Number                string `json:"number"`
	Status                string `json:"status"`
	StatusCode            string `json:"statusCode"`
	CitySender            string `json:"citySender,omitempty"`
	CityRecipient         string `json:"cityRecipient,omitempty"`
	WarehouseRecipient    string `json:"warehouseRecipient,omitempty"`
	ScheduledDeliveryDate string `json:"scheduledDeliveryDate,omitempty"`
	ActualDeliveryDate    string `json:"actualDeliveryDate,omitempty"`
}

type apiRequest struct {
	APIKey           string `json:"apiKey"`
	ModelName        string `json:"modelName"`
	CalledMethod     string `json:"calledMethod"`
	MethodProperties any    `json:"methodProperties"`
}

type apiResponse struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
}

// Client calls the Nova Poshta JSON API and caches directory lookups.
type Client struct {
	client     *upstream.Client
	apiKey     string
	cities     *cache.TTL[[]City]
	warehouses *cache.TTL[[]Warehouse]
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client. The API key is read from cfg.APIKeyEnv; the
// recorder may be nil.
func NewClient(client *upstream.Client, cfg config.NovaPoshtaConfig, recorder cache.HitRecorder, opts ...Option) *Client {
	c := &Client{
		client:     client,
		apiKey:     config.Secret(cfg.APIKeyEnv),
		cities:     cache.New[[]City]("np_cities", cfg.Cache, recorder),
		warehouses: cache.New[[]Warehouse]("np_warehouses", cfg.Cache, recorder),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchCities finds settlements whose name matches q. Queries shorter than
// two characters return an empty list without calling the API. cached
// reports whether the result came from the cache.
func (c *Client) SearchCities(ctx context.Context, q string) (cities []City, cached bool, err error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < minQueryLength {
		return []City{}, false, nil
	}
	key := strings.ToLower(q)
	if v, ok := c.cities.Get(key); ok {
		return v, true, nil
	}

	ctx, span := observability.StartSpan(ctx, "novaposhta.search_cities",
		observability.AttrLookupID.String("np_cities"),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var data []struct {
		Addresses []struct {
			DeliveryCity string `json:"DeliveryCity"`
			Present      string `json:"Present"`
			Area         string `json:"Area"`
		} `json:"Addresses"`
	}
	props := map[string]any{"CityName": q, "Limit": cityLimit}
	if err := c.call(ctx, "Address", "searchSettlements", props, &data); err != nil {
		return nil, false, err
	}

	cities = []City{}
	if len(data) > 0 {
		for _, a := range data[0].Addresses {
			cities = append(cities, City{Ref: a.DeliveryCity, Description: a.Present, Area: a.Area})
		}
	}
	c.cities.Put(key, cities)
	return cities, false, nil
}

// Warehouses lists the branches of a city, optionally filtered by q.
func (c *Client) Warehouses(ctx context.Context, cityRef, q string) (warehouses []Warehouse, cached bool, err error) {
	cityRef = strings.TrimSpace(cityRef)
	if cityRef == "" {
		return nil, false, model.NewMissingFieldError("cityRef")
	}
	q = strings.TrimSpace(q)
	key := cityRef + ":" + strings.ToLower(q)
	if v, ok := c.warehouses.Get(key); ok {
		return v, true, nil
	}

	ctx, span := observability.StartSpan(ctx, "novaposhta.warehouses",
		observability.AttrLookupID.String("np_warehouses"),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var data []struct {
		Ref             string `json:"Ref"`
		Description     string `json:"Description"`
		Number          string `json:"Number"`
		CityRef         string `json:"CityRef"`
		CityDescription string `json:"CityDescription"`
		TypeOfWarehouse string `json:"TypeOfWarehouse"`
	}
	props := map[string]any{"CityRef": cityRef, "FindByString": q, "Limit": warehouseLimit}
	if err := c.call(ctx, "Address", "getWarehouses", props, &data); err != nil {
		return nil, false, err
	}

	warehouses = make([]Warehouse, 0, len(data))
	for _, w := range data {
		warehouses = append(warehouses, Warehouse(w))
	}
	c.warehouses.Put(key, warehouses)
	return warehouses, false, nil
}

// Track returns the status of the parcel with waybill number ttn.
func (c *Client) Track(ctx context.Context, ttn string) (*TrackingStatus, error) {
	ttn = strings.TrimSpace(ttn)
	if ttn == "" {
		return nil, model.NewMissingFieldError("ttn")
	}
	var data []struct {
		Number                string `json:"Number"`
		Status                string `json:"Status"`
		StatusCode            string `json:"StatusCode"`
		CitySender            string `json:"CitySender"`
		CityRecipient         string `json:"CityRecipient"`
		WarehouseRecipient    string `json:"WarehouseRecipient"`
		ScheduledDeliveryDate string `json:"ScheduledDeliveryDate"`
		ActualDeliveryDate    string `json:"ActualDeliveryDate"`
	}
	props := map[string]any{"Documents": []map[string]string{{"DocumentNumber": ttn}}}
	if err := c.call(ctx, "TrackingDocument", "getStatusDocuments", props, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, model.NewNotFoundError("Parcel not found")
	}
	st := TrackingStatus(data[0])
	return &st, nil
}

// call posts one API method and decodes the data member into out.
func (c *Client) call(ctx context.Context, modelName, method string, props, out any) error {
	var resp apiResponse
	err := c.client.DoJSON(ctx, upstream.Request{
		Operation: method,
		Method:    http.MethodPost,
		Body: apiRequest{
			APIKey:           c.apiKey,
			ModelName:        modelName,
			CalledMethod:     method,
			MethodProperties: props,
		},
	}, &resp)
	if err != nil {
		return model.Wrap(err, model.ErrFetchFailed, "Nova Poshta request failed")
	}
	if !resp.Success {
		c.logger.Warn("novaposhta: request rejected",
			zap.String("method", method),
			zap.Strings("errors", resp.Errors),
		)
		return model.NewError(model.ErrFetchFailed, "Nova Poshta request failed").
			WithMeta("errors", resp.Errors)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return model.NewError(model.ErrInvalidResponse, "Invalid Nova Poshta response").WithCause(err)
	}
	return nil
}
