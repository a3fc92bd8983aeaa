package verification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/upstream"
)

// Sender delivers a text message to a normalized phone and returns the
// gateway's message ID.
type Sender interface {
	Send(ctx context.Context, phone, text string) (messageID string, err error)
}

// TurboSMS sends messages through the TurboSMS HTTP API. The upstream
// client carries the bearer token.
type TurboSMS struct {
	client *upstream.Client
	sender string
}

// NewTurboSMS creates a TurboSMS sender. senderName is the registered alpha
// name shown to recipients.
func NewTurboSMS(client *upstream.Client, senderName string) *TurboSMS {
	return &TurboSMS{client: client, sender: senderName}
}

type turboRequest struct {
	Recipients []string       `json:"recipients"`
	SMS        turboSMSFields `json:"sms"`
}

type turboSMSFields struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type turboResponse struct {
	ResponseCode   int    `json:"response_code"`
	ResponseStatus string `json:"response_status"`
	ResponseResult []struct {
		Phone          string `json:"phone"`
		ResponseCode   int    `json:"response_code"`
		MessageID      string `json:"message_id"`
		ResponseStatus string `json:"response_status"`
	} `json:"response_result"`
}

// turboAccepted reports whether a TurboSMS response code means the message
// was accepted. 0 and 1 are plain success; 800-803 are success with a
// warning (e.g. a recipient was normalized by the gateway).
func turboAccepted(code int) bool {
	return code == 0 || code == 1 || (code >= 800 && code <= 803)
}

// Send posts one message to /message/send.json.
func (t *TurboSMS) Send(ctx context.Context, phone, text string) (string, error) {
	var resp turboResponse
	err := t.client.DoJSON(ctx, upstream.Request{
		Operation: "send_sms",
		Method:    http.MethodPost,
		Path:      "/message/send.json",
		Body: turboRequest{
			Recipients: []string{phone},
			SMS:        turboSMSFields{Sender: t.sender, Text: text},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if !turboAccepted(resp.ResponseCode) {
		return "", fmt.Errorf("turbosms: %s (code %d)", resp.ResponseStatus, resp.ResponseCode)
	}
	if len(resp.ResponseResult) == 0 {
		return "", fmt.Errorf("turbosms: empty response_result")
	}
	r := resp.ResponseResult[0]
	if !turboAccepted(r.ResponseCode) || r.MessageID == "" {
		return "", fmt.Errorf("turbosms: recipient rejected: %s (code %d)", r.ResponseStatus, r.ResponseCode)
	}
	return r.MessageID, nil
}

// LogSender writes messages to the log instead of sending them. It is used
// when no gateway token is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a development sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message and returns a synthetic message ID.
func (s *LogSender) Send(ctx context.Context, phone, text string) (string, error) {
	id := "dev-" + uuid.NewString()
	observability.RequestLogger(ctx, s.logger).Info("sms: dev mode, message not sent",
		zap.String("phone", observability.MaskPhone(phone)),
		zap.String("text", text),
		zap.String("message_id", id),
	)
	return id, nil
}
