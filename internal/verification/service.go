package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/model"
)

// Recorder receives send and verify outcomes. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordVerificationSend(outcome string)
	RecordVerificationAttempt(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordVerificationSend(string)    {}
func (nopRecorder) RecordVerificationAttempt(string) {}

// CodeIssuer is an external service that both generates and delivers a
// code, returning it so it can be compared locally.
type CodeIssuer interface {
	IssueCode(ctx context.Context, phone string) (code, messageID string, err error)
}

// SendResult is returned by SendCode.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// VerifyResult is returned by VerifyCode. Token is set only when verified.
type VerifyResult struct {
	Verified  bool       `json:"verified"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Service sends and verifies one-time codes.
type Service struct {
	store    CodeStore
	sender   Sender
	issuer   CodeIssuer
	tokens   *Tokens
	cfg      config.VerificationConfig
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCodeIssuer delegates code generation and delivery to an external
// issuer. The sender is not used.
func WithCodeIssuer(i CodeIssuer) Option {
	return func(s *Service) { s.issuer = i }
}

// WithClock replaces time.Now. The token issuer shares the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.tokens.now = now
	}
}

// NewService creates a verification service. Out-of-range settings fall back
// to defaults: six digits, five minutes, one minute cooldown.
func NewService(store CodeStore, sender Sender, tokens *Tokens, cfg config.VerificationConfig, opts ...Option) *Service {
	if cfg.CodeLength < 4 || cfg.CodeLength > 6 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.ResendCooldown < 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.MessageTemplate == "" || !strings.Contains(cfg.MessageTemplate, "%s") {
		cfg.MessageTemplate = "Verification code: %s"
	}
	s := &Service{
		store:    store,
		sender:   sender,
		tokens:   tokens,
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the issuer used for phone tokens.
func (s *Service) Tokens() *Tokens { return s.tokens }

// SendCode generates a new code for phone, stores it and sends it. A
// previous pending code is replaced. Requests inside the resend cooldown are
// rejected with RATE_LIMITED and a retryAfter (seconds) meta value.
func (s *Service) SendCode(ctx context.Context, rawPhone string) (*SendResult, error) {
	phone, err := Normalize(rawPhone)
	if err != nil {
		s.recorder.RecordVerificationSend("invalid")
		return nil, err
	}
	logger := observability.RequestLogger(ctx, s.logger).With(
		zap.String("phone", observability.MaskPhone(phone)),
	)
	now := s.now()

	prev, found, err := s.store.Get(ctx, phone)
	if err != nil {
		logger.Error("sms: code store read failed", zap.Error(err))
		return nil, s.sendFailed(err)
	}
	if found && s.cfg.ResendCooldown > 0 {
		if wait := prev.SentAt.Add(s.cfg.ResendCooldown).Sub(now); wait > 0 {
			s.recorder.RecordVerificationSend("rate_limited")
			retryAfter := int((wait + time.Second - 1) / time.Second)
			return nil, model.NewRateLimitedError("A code was sent recently. Please wait before requesting another.").
				WithMeta("retryAfter", retryAfter)
		}
	}

	var code, messageID string
	if s.issuer != nil {
		code, messageID, err = s.issuer.IssueCode(ctx, phone)
		if err != nil {
			logger.Warn("sms: code issuer failed", zap.Error(err))
			return nil, s.sendFailed(err)
		}
	} else if code, err = generateCode(s.cfg.CodeLength); err != nil {
		return nil, s.sendFailed(err)
	}

	if err := s.store.Put(ctx, phone, Entry{Code: code, SentAt: now, ExpiresAt: now.Add(s.cfg.CodeTTL)}); err != nil {
		logger.Error("sms: code store write failed", zap.Error(err))
		return nil, s.sendFailed(err)
	}

	if s.issuer == nil {
		messageID, err = s.sender.Send(ctx, phone, fmt.Sprintf(s.cfg.MessageTemplate, code))
		if err != nil {
			if delErr := s.store.Delete(context.WithoutCancel(ctx), phone); delErr != nil {
				logger.Error("sms: failed to discard unsent code", zap.Error(delErr))
			}
			logger.Warn("sms: gateway rejected message", zap.Error(err))
			return nil, s.sendFailed(err)
		}
	}

	s.recorder.RecordVerificationSend("sent")
	logger.Info("sms: verification code sent", zap.String("message_id", messageID))
	return &SendResult{Success: true, MessageID: messageID}, nil
}

func (s *Service) sendFailed(cause error) error {
	s.recorder.RecordVerificationSend("failed")
	return model.NewError(model.ErrSMSSendFailed, "Failed to send verification code").WithCause(cause)
}

// VerifyCode checks code against the pending entry of phone. A wrong code
// keeps the entry so the user can retry until it expires or the attempt
// limit is reached.
func (s *Service) VerifyCode(ctx context.Context, rawPhone, code string) (*VerifyResult, error) {
	phone, err := Normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewError(model.ErrMissingCode, "code is required")
	}

	// Compare and count inside one atomic update of the stored entry.
	now := s.now()
	var outcome string
	_, found, err := s.store.Update(ctx, phone, func(e *Entry) bool {
		switch {
		case now.After(e.ExpiresAt):
			outcome = "expired"
			return false
		case subtle.ConstantTimeCompare([]byte(code), []byte(e.Code)) == 1:
			outcome = "verified"
			return false
		}
		e.Attempts++
		if s.cfg.MaxAttempts > 0 && e.Attempts >= s.cfg.MaxAttempts {
			outcome = "exhausted"
			return false
		}
		outcome = "mismatch"
		return true
	})
	if err != nil {
		return nil, model.NewInternalError().WithCause(err)
	}
	if !found {
		s.recorder.RecordVerificationAttempt("not_found")
		return nil, model.NewError(model.ErrCodeNotFound, "No verification code was sent to this number")
	}

	switch outcome {
	case "expired":
		s.recorder.RecordVerificationAttempt(outcome)
		return nil, model.NewError(model.ErrCodeExpired, "The verification code has expired")
	case "exhausted":
		s.recorder.RecordVerificationAttempt(outcome)
		return nil, model.NewError(model.ErrTooManyAttempts, "Too many incorrect attempts. Request a new code.")
	case "mismatch":
		s.recorder.RecordVerificationAttempt(outcome)
		return &VerifyResult{Verified: false}, nil
	}

	token, expires, err := s.tokens.Issue(phone)
	if err != nil {
		return nil, model.NewInternalError().WithCause(err)
	}
	s.recorder.RecordVerificationAttempt("verified")
	return &VerifyResult{Verified: true, Token: token, ExpiresAt: &expires}, nil
}

// VerifyToken checks a phone token issued by VerifyCode.
func (s *Service) VerifyToken(token, phone string) error {
	return s.tokens.Verify(token, phone)
}

func generateCode(length int) (string, error) {
	ten := big.NewInt(10)
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("verification: generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
