package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/runferry/portal/internal/upstream"
	"github.com/runferry/portal/model"
)

// SchemaQuery identifies one schema document on the HS backend.
type SchemaQuery struct {
	ChipID       string
	Localization string
	Email        string
	ChipType     string
}

// cacheKey omits Email: the HS document does not vary by user.
func (q SchemaQuery) cacheKey() string {
	return "schema:" + q.ChipID + ":" + q.Localization + ":" + q.ChipType
}

// HSClient talks to the HS settings backend. The upstream base URL points at
// the schema document (the /RTL/ resource).
type HSClient struct {
	client   *upstream.Client
	pushPath string
}

// NewHSClient wraps an upstream client. pushPath is the path under the base
// URL that accepts value writes; it may be empty when writes stay local.
func NewHSClient(client *upstream.Client, pushPath string) *HSClient {
	return &HSClient{client: client, pushPath: strings.Trim(pushPath, "/")}
}

// CanPush reports whether a push path is configured.
func (h *HSClient) CanPush() bool { return h.pushPath != "" }

// FetchSchema retrieves the settings schema. The backend must answer with a
// JSON array of groups.
func (h *HSClient) FetchSchema(ctx context.Context, q SchemaQuery) ([]Group, error) {
	query := url.Values{}
	query.Set("Localization", q.Localization)
	query.Set("Email", q.Email)
	query.Set("chipId", q.ChipID)
	query.Set("chipType", q.ChipType)

	resp, err := h.client.Do(ctx, upstream.Request{
		Operation: "get_schema",
		Method:    http.MethodGet,
		Query:     query,
	})
	if err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to fetch settings schema").WithCause(err)
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || body[0] != '[' {
		return nil, model.NewError(model.ErrInvalidResponse, "Invalid response format from settings API")
	}
	var groups []Group
	if err := json.Unmarshal(body, &groups); err != nil {
		return nil, model.NewError(model.ErrInvalidResponse, "Invalid response format from settings API").WithCause(err)
	}
	return groups, nil
}

// PushValue writes one setting value to the HS backend.
func (h *HSClient) PushValue(ctx context.Context, boatID string, settingID, value int) error {
	_, err := h.client.Do(ctx, upstream.Request{
		Operation: "push_value",
		Method:    http.MethodPut,
		Path:      h.pushPath + "/" + url.PathEscape(boatID) + "/" + strconv.Itoa(settingID),
		Body:      map[string]int{"value": value},
	})
	return err
}
