package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/resolver"
	"github.com/vendra-ai/go-agent-backend/internal/tools"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

var inboundTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inbound_messages_total",
		Help: "Inbound webhook messages by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(inboundTotal)
}

// CredentialResolver maps a receiving phone-number id to tenant credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, phoneNumberID string) (*resolver.Credentials, error)
}

// DedupRepo persists processed message ids so provider redeliveries are
// dropped.
type DedupRepo interface {
	SeenMessage(ctx context.Context, db *gorm.DB, messageID string, now time.Time) (bool, error)
	MarkMessageProcessed(ctx context.Context, db *gorm.DB, messageID, tenantID string, ttl time.Duration) error
}

// Messenger is the slice of the dispatcher the inbound pipeline drives
// directly.
type Messenger interface {
	SendText(ctx context.Context, creds *resolver.Credentials, to, body string) bool
	MarkAsRead(ctx context.Context, creds *resolver.Credentials, messageID string)
}

// AudioTranscriber converts a voice note media id into text, fail-soft.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, token, mediaID string) (string, bool)
}

// DecisionInput is one conversational turn handed to the decision layer.
type DecisionInput struct {
	TenantID      string
	CustomerPhone string
	CustomerName  string
	MessageID     string
	MessageType   string // text | audio | interactive
	Text          string // message body, interactive reply id, or transcript
	// AudioUnderstood is false when an audio message could not be
	// transcribed; Text is empty in that case.
	AudioUnderstood bool
}

// Decision is what the decision layer wants done for one turn.
type Decision struct {
	Reply     string
	ToolCalls []tools.Call
}

// Decider is the external agent layer. The pipeline treats its output as an
// opaque instruction set: a reply to send and tool calls to execute in order.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

// ToolRunner executes one tool call in a conversation scope.
type ToolRunner interface {
	Execute(ctx context.Context, call tools.Call, conv tools.Conversation) (tools.Result, error)
}

// InboundService turns webhook deliveries into agent turns: resolve tenant,
// drop redeliveries, transcribe audio, ask the decision layer, run its tool
// calls sequentially and send its reply.
type InboundService struct {
	DB          *gorm.DB
	Dedup       DedupRepo
	Resolver    CredentialResolver
	Dispatcher  Messenger
	Transcriber AudioTranscriber
	Decider     Decider
	Tools       ToolRunner

	// DedupTTL bounds how long processed message ids are remembered; the
	// provider stops redelivering long before any sane value here.
	DedupTTL time.Duration
}

// HandleEvent processes every message in one webhook delivery. The returned
// error is transient-infra only (store unavailable), signalling the handler
// to answer non-2xx so the provider redelivers; everything else is fail-soft
// per message.
func (s *InboundService) HandleEvent(ctx context.Context, payload *whatsapp.WebhookPayload) error {
	for _, msg := range whatsapp.ExtractMessages(payload) {
		if err := s.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *InboundService) handleMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	ctx, span := otel.Tracer("services").Start(ctx, "Inbound.HandleMessage")
	span.SetAttributes(
		attribute.String("phone_number_id", msg.PhoneNumberID),
		attribute.String("message_type", msg.Type),
	)
	defer span.End()

	creds, err := s.Resolver.Resolve(ctx, msg.PhoneNumberID)
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		// Number not connected to any tenant; ack and drop so the provider
		// does not redeliver forever.
		log.Warn().Str("phone_number_id", msg.PhoneNumberID).Msg("inbound for unknown number")
		inboundTotal.WithLabelValues("unknown_number").Inc()
		return nil
	case err != nil:
		inboundTotal.WithLabelValues("store_unavailable").Inc()
		return err
	}

	seen, err := s.Dedup.SeenMessage(ctx, s.DB, msg.MessageID, time.Now())
	if err != nil {
		return err
	}
	if seen {
		inboundTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	if err := s.Dedup.MarkMessageProcessed(ctx, s.DB, msg.MessageID, creds.TenantID, s.DedupTTL); err != nil {
		return err
	}

	s.Dispatcher.MarkAsRead(ctx, creds, msg.MessageID)

	in := DecisionInput{
		TenantID:        creds.TenantID,
		CustomerPhone:   msg.From,
		CustomerName:    msg.ProfileName,
		MessageID:       msg.MessageID,
		MessageType:     msg.Type,
		Text:            msg.Text,
		AudioUnderstood: true,
	}
	if msg.Type == "audio" {
		text, ok := s.Transcriber.Transcribe(ctx, creds.AccessToken, msg.MediaID)
		in.Text, in.AudioUnderstood = text, ok
	}

	decision, err := s.Decider.Decide(ctx, in)
	if err != nil {
		// The customer already got a read receipt; a decision failure must
		// not bounce the webhook into redelivery of the same message.
		log.Error().Str("tenant_id", creds.TenantID).Err(err).Msg("decision layer failed")
		inboundTotal.WithLabelValues("decision_error").Inc()
		return nil
	}

	if decision.Reply != "" {
		s.Dispatcher.SendText(ctx, creds, msg.From, decision.Reply)
	}

	conv := tools.Conversation{
		Creds:         creds,
		CustomerPhone: msg.From,
		CustomerName:  msg.ProfileName,
	}
	for _, call := range decision.ToolCalls {
		res, err := s.Tools.Execute(ctx, call, conv)
		if err != nil {
			log.Error().Str("tenant_id", creds.TenantID).Err(err).Msg("tool dispatch failed")
			continue
		}
		if !res.Success {
			log.Warn().Str("tenant_id", creds.TenantID).Str("tool", res.Tool).
				Str("detail", res.Detail).Msg("tool reported failure")
		}
	}

	inboundTotal.WithLabelValues("ok").Inc()
	return nil
}
