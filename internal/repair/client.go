package repair

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/upstream"
	"github.com/runferry/portal/model"
)

const textPlain = "text/plain"

// Client calls the repair portal. The upstream base URL is the portal's
// facebook resource; request operations live under repair/ and labels
// directly under the base.
type Client struct {
	client *upstream.Client
	logger *zap.Logger
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

// NewClient wraps an upstream client for the repair portal.
func NewClient(client *upstream.Client, opts ...Option) *Client {
	c := &Client{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommentsReply is the portal's answer to a new comment.
type CommentsReply struct {
	Comments []CommentItem `json:"comments"`
}

// QuestionsReply is the portal's answer to a new question.
type QuestionsReply struct {
	Questions []QuestionItem `json:"questions"`
}

// CallRequestsReply is the portal's answer to a callback request.
type CallRequestsReply struct {
	CallRequests []CallRequestItem `json:"callRequests"`
}

// Get loads and normalizes a service request.
func (c *Client) Get(ctx context.Context, id string) (*ServiceRequestData, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.NewMissingFieldError("id")
	}
	resp, err := c.client.Do(ctx, upstream.Request{
		Operation: "get_request",
		Method:    http.MethodGet,
		Path:      requestPath(id),
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, model.NewNotFoundError("Service request not found").WithCause(err)
		}
		return nil, model.NewError(model.ErrFetchFailed, "Failed to load service request").WithCause(err)
	}
	raw, err := Decode(resp.Body)
	if err != nil {
		return nil, model.NewError(model.ErrInvalidResponse, "Invalid service request response").WithCause(err)
	}
	return Normalize(raw), nil
}

// AcceptTerms records the client's acceptance of the service terms.
func (c *Client) AcceptTerms(ctx context.Context, id string) error {
	_, err := c.post(ctx, "accept_terms", requestPath(id, "accept"), nil)
	if err != nil {
		return updateFailed(err, "Failed to accept terms")
	}
	return nil
}

// SelectRepairOption confirms one of the offered repair options.
func (c *Client) SelectRepairOption(ctx context.Context, id, optionID, confirmedAt string) error {
	if optionID == "" {
		return model.NewMissingFieldError("optionId")
	}
	body := map[string]string{"optionId": optionID, "confirmedAt": confirmedAt}
	if _, err := c.post(ctx, "select_repair", requestPath(id, "select-repair"), body); err != nil {
		return updateFailed(err, "Failed to select repair option")
	}
	return nil
}

// AddComment appends a client comment and returns the updated thread.
func (c *Client) AddComment(ctx context.Context, id, text string) (*CommentsReply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewMissingFieldError("text")
	}
	resp, err := c.post(ctx, "add_comment", requestPath(id, "comment"), map[string]string{"text": text})
	if err != nil {
		return nil, updateFailed(err, "Failed to add comment")
	}
	out := &CommentsReply{Comments: []CommentItem{}}
	return out, decodeReply(resp, out)
}

// AddQuestion sends a client question.
func (c *Client) AddQuestion(ctx context.Context, id, text string) (*QuestionsReply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewMissingFieldError("text")
	}
	resp, err := c.post(ctx, "add_question", requestPath(id, "question"), map[string]string{"text": text})
	if err != nil {
		return nil, updateFailed(err, "Failed to send question")
	}
	out := &QuestionsReply{Questions: []QuestionItem{}}
	return out, decodeReply(resp, out)
}

// RequestCallback asks the service center to call the client back.
func (c *Client) RequestCallback(ctx context.Context, id, userComment string) (*CallRequestsReply, error) {
	resp, err := c.post(ctx, "call_request", requestPath(id, "call-request"), map[string]string{"userComment": userComment})
	if err != nil {
		return nil, updateFailed(err, "Failed to request callback")
	}
	out := &CallRequestsReply{CallRequests: []CallRequestItem{}}
	return out, decodeReply(resp, out)
}

// Labels loads localized UI strings, keyed by label key.
func (c *Client) Labels(ctx context.Context, lang string, keys []string) (map[string]string, error) {
	if keys == nil {
		keys = []string{}
	}
	resp, err := c.post(ctx, "get_labels", "labels", map[string]any{"lang": lang, "keys": keys})
	if err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to load labels").WithCause(err)
	}
	var items []Label
	if err := resp.DecodeJSON(&items); err != nil {
		return nil, model.NewError(model.ErrInvalidResponse, "Invalid labels response").WithCause(err)
	}
	labels := make(map[string]string, len(items))
	for _, it := range items {
		labels[it.Key] = it.Text
	}
	return labels, nil
}

// ListByPhone returns the requests registered for a phone.
func (c *Client) ListByPhone(ctx context.Context, phone string) ([]RequestSummary, error) {
	var out []RequestSummary
	if err := c.postList(ctx, "list_by_phone", phonePath(phone, "List"), &out); err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to load repair requests").WithCause(err)
	}
	if out == nil {
		out = []RequestSummary{}
	}
	return out, nil
}

// History returns the communication history for a phone.
func (c *Client) History(ctx context.Context, phone string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.postList(ctx, "get_history", phonePath(phone, "repair_History"), &out); err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to load communication history").WithCause(err)
	}
	if out == nil {
		out = []HistoryEntry{}
	}
	return out, nil
}

// UpdateClientInfo changes the return delivery recipient.
func (c *Client) UpdateClientInfo(ctx context.Context, id string, info ClientInfoUpdate) error {
	if _, err := c.post(ctx, "update_client_info", requestPath(id, "ClientInformation"), info); err != nil {
		return updateFailed(err, "Failed to update client information")
	}
	return nil
}

// ServiceCenters lists the repair locations.
func (c *Client) ServiceCenters(ctx context.Context) ([]ServiceCenter, error) {
	resp, err := c.client.Do(ctx, upstream.Request{
		Operation: "list_service_centers",
		Method:    http.MethodGet,
		Path:      "repair/repair_ServoceList",
	})
	if err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to load service centers").WithCause(err)
	}
	var env struct {
		List []ServiceCenter `json:"List"`
	}
	if err := resp.DecodeJSON(&env); err != nil {
		return nil, model.NewError(model.ErrInvalidResponse, "Invalid service center response").WithCause(err)
	}
	if env.List == nil {
		env.List = []ServiceCenter{}
	}
	return env.List, nil
}

// Create registers a new service request.
func (c *Client) Create(ctx context.Context, req NewRequest) (*Created, error) {
	req.PhoneNumber = cleanPhone(req.PhoneNumber)
	if req.PhoneNumber == "" {
		return nil, model.NewMissingFieldError("phone_number")
	}
	resp, err := c.post(ctx, "create_request", "repair/repair_NEW", req)
	if err != nil {
		return nil, model.NewError(model.ErrCreateFailed, portalMessage(err, "Failed to create repair request")).WithCause(err)
	}
	raw, err := Decode(resp.Body)
	if err != nil {
		return nil, model.NewError(model.ErrCreateFailed, "Invalid create response").WithCause(err)
	}
	return &Created{
		ID:       stringify(raw["ID"]),
		Status:   stringify(raw["Status"]),
		LastName: raw["LastName"],
	}, nil
}

// IssueCode asks the portal to text a verification code to phone and
// returns the code it sent. The code never leaves the server.
func (c *Client) IssueCode(ctx context.Context, phone string) (code, messageID string, err error) {
	ctx, span := observability.StartSpan(ctx, "repair.issue_code")
	defer func() { observability.EndSpanWithError(span, err) }()

	resp, err := c.post(ctx, "send_sms", phonePath(phone, "sendSMS"), nil)
	if err != nil {
		return "", "", err
	}
	raw, err := Decode(resp.Body)
	if err != nil {
		return "", "", err
	}
	code = stringify(raw["Code"])
	if code == "" {
		return "", "", model.NewError(model.ErrInvalidResponse, "Portal returned no verification code")
	}
	messageID = "portal-" + uuid.NewString()
	c.logger.Debug("repair: portal issued verification code",
		zap.String("phone", observability.MaskPhone(cleanPhone(phone))),
		zap.String("message_id", messageID),
	)
	return code, messageID, nil
}

// post sends body as JSON with a text/plain content type, the only form the
// portal accepts. A nil body sends an empty payload.
func (c *Client) post(ctx context.Context, operation, path string, body any) (*upstream.Response, error) {
	raw := []byte{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return c.client.Do(ctx, upstream.Request{
		Operation:   operation,
		Method:      http.MethodPost,
		Path:        path,
		RawBody:     raw,
		ContentType: textPlain,
	})
}

// postList posts an empty body and decodes the reply's List member.
func (c *Client) postList(ctx context.Context, operation, path string, out any) error {
	resp, err := c.post(ctx, operation, path, nil)
	if err != nil {
		return err
	}
	env := struct {
		List any `json:"List"`
	}{List: out}
	return resp.DecodeJSON(&env)
}

func decodeReply(resp *upstream.Response, out any) error {
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return model.NewError(model.ErrInvalidResponse, "Invalid portal response").WithCause(err)
	}
	return nil
}

func requestPath(id string, parts ...string) string {
	p := "repair/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func phonePath(phone, action string) string {
	return "repair/" + cleanPhone(phone) + "/" + action
}

// cleanPhone keeps the digits of phone.
func cleanPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func statusOf(err error) int {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// portalMessage returns the portal's own error message when the reply
// carried one.
func portalMessage(err error, fallback string) string {
	var se *upstream.StatusError
	if !errors.As(err, &se) || len(se.Body) == 0 {
		return fallback
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(se.Body, &body) == nil && body.Message != "" {
		return body.Message
	}
	return fallback
}

func updateFailed(err error, fallback string) error {
	return model.NewError(model.ErrUpdateFailed, portalMessage(err, fallback)).WithCause(err)
}
