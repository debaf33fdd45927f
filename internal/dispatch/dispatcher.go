// Package dispatch implements the outbound channel dispatcher: a stateless
// façade that executes message operations with per-call tenant credentials.
//
// Every public operation is fail-soft. A provider failure is logged with the
// provider's status code and error body and reported through the return value
// (boolean or structured result); it never propagates as an error into the
// inbound-processing pipeline. The interesting state lives in the resolver's
// cache and in the conversation layer, not here.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vendra-ai/go-agent-backend/internal/resolver"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

var (
	// outboundTotal counts dispatcher operations by kind and outcome.
	outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_messages_total",
			Help: "Total outbound channel operations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(outboundTotal)
}

// Urgency selects the framing of an operator escalation. Delivery is
// identical across tiers.
type Urgency string

// Urgency tiers.
const (
	UrgencyNormal Urgency = "normal"
	UrgencyUrgent Urgency = "urgent"
	UrgencyVIP    Urgency = "vip"
)

// Escalation is the structured summary routed to a human operator.
type Escalation struct {
	CustomerName  string
	CustomerPhone string
	Reason        string
	Excerpt       []string // recent conversation lines, oldest first
	Urgency       Urgency
}

// TemplateResult is the structured outcome of a template send. Campaign
// callers need the provider's error text for failure reporting, so a bare
// boolean is not enough here.
type TemplateResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher executes outbound operations against the channel API.
//
// DefaultToken/DefaultPhoneNumberID serve manual, non-multi-tenant paths
// only: they are used when the caller explicitly passes nil credentials,
// never to mask a failed resolution.
type Dispatcher struct {
	Client *whatsapp.Client

	DefaultToken         string
	DefaultPhoneNumberID string

	// FallbackOperator receives escalations for tenants without their own
	// operator number. Empty means escalation degrades to false.
	FallbackOperator string

	// AllowInactive lifts the subscription gate outside production paths.
	AllowInactive bool
}

// SendText sends a plain text message. Best-effort: false on any failure.
func (d *Dispatcher) SendText(ctx context.Context, creds *resolver.Credentials, to, body string) bool {
	return d.send(ctx, creds, "text", func(token, phoneID string) (string, error) {
		return d.Client.SendText(ctx, token, phoneID, to, body)
	})
}

// SendInteractiveList sends a selectable list. Truncation to provider limits
// happens in the wire client; this method only carries the fail-soft policy.
func (d *Dispatcher) SendInteractiveList(ctx context.Context, creds *resolver.Credentials, to, header, body string, items []whatsapp.ListItem) bool {
	return d.send(ctx, creds, "interactive_list", func(token, phoneID string) (string, error) {
		return d.Client.SendInteractiveList(ctx, token, phoneID, to, header, body, items)
	})
}

// SendConfirmationButtons sends the fixed confirm / another-time pair.
func (d *Dispatcher) SendConfirmationButtons(ctx context.Context, creds *resolver.Credentials, to, body string) bool {
	return d.send(ctx, creds, "buttons", func(token, phoneID string) (string, error) {
		return d.Client.SendConfirmationButtons(ctx, token, phoneID, to, body)
	})
}

// SendTemplate sends a pre-approved template message and returns a structured
// result including the provider error text on failure.
func (d *Dispatcher) SendTemplate(ctx context.Context, creds *resolver.Credentials, to, name, language string, components []whatsapp.TemplateComponent) TemplateResult {
	tr := otel.Tracer("dispatch")
	ctx, span := tr.Start(ctx, "SendTemplate", trace.WithAttributes(attribute.String("template.name", name)))
	defer span.End()

	token, phoneID, ok := d.credentials(creds, "template")
	if !ok {
		return TemplateResult{Success: false, Error: "no credentials available"}
	}
	if !d.sendAllowed(creds) {
		outboundTotal.WithLabelValues("template", "gated").Inc()
		return TemplateResult{Success: false, Error: "subscription inactive"}
	}

	id, err := d.Client.SendTemplate(ctx, token, phoneID, to, name, language, components)
	if err != nil {
		logProviderFailure("template", err)
		outboundTotal.WithLabelValues("template", "error").Inc()
		return TemplateResult{Success: false, Error: providerMessage(err)}
	}
	outboundTotal.WithLabelValues("template", "ok").Inc()
	return TemplateResult{Success: true, MessageID: id}
}

// MarkAsRead acknowledges an inbound message. Fire-and-forget: failures are
// logged and swallowed.
func (d *Dispatcher) MarkAsRead(ctx context.Context, creds *resolver.Credentials, messageID string) {
	token, phoneID, ok := d.credentials(creds, "mark_read")
	if !ok {
		return
	}
	if err := d.Client.MarkAsRead(ctx, token, phoneID, messageID); err != nil {
		logProviderFailure("mark_read", err)
	}
}

// EscalateToHuman routes a structured summary to the tenant's operator
// number, or to the global fallback. Returns false (never an error) when no
// operator is configured or the send fails: the caller is already handling
// an exceptional situation and must not be taken down by the escalation.
func (d *Dispatcher) EscalateToHuman(ctx context.Context, creds *resolver.Credentials, esc Escalation) bool {
	operator := d.operatorNumber(creds)
	if operator == "" {
		log.Warn().Str("tenant_id", tenantID(creds)).Msg("escalation dropped: no operator number configured")
		outboundTotal.WithLabelValues("escalation", "unconfigured").Inc()
		return false
	}
	return d.send(ctx, creds, "escalation", func(token, phoneID string) (string, error) {
		return d.Client.SendText(ctx, token, phoneID, operator, formatEscalation(esc))
	})
}

// NotifyFallback sends a short operator notice when the agent could not
// handle a conversation. Same delivery and degradation as EscalateToHuman.
func (d *Dispatcher) NotifyFallback(ctx context.Context, creds *resolver.Credentials, customerPhone, summary string) bool {
	operator := d.operatorNumber(creds)
	if operator == "" {
		log.Warn().Str("tenant_id", tenantID(creds)).Msg("fallback notice dropped: no operator number configured")
		outboundTotal.WithLabelValues("fallback_notice", "unconfigured").Inc()
		return false
	}
	body := fmt.Sprintf("⚠️ Atendimento precisa de atenção\nCliente: %s\n%s", customerPhone, summary)
	return d.send(ctx, creds, "fallback_notice", func(token, phoneID string) (string, error) {
		return d.Client.SendText(ctx, token, phoneID, operator, body)
	})
}

// send runs one wire call under the shared fail-soft policy.
func (d *Dispatcher) send(ctx context.Context, creds *resolver.Credentials, kind string, call func(token, phoneID string) (string, error)) bool {
	tr := otel.Tracer("dispatch")
	_, span := tr.Start(ctx, "send", trace.WithAttributes(attribute.String("dispatch.kind", kind)))
	defer span.End()

	token, phoneID, ok := d.credentials(creds, kind)
	if !ok {
		return false
	}
	if !d.sendAllowed(creds) {
		log.Warn().Str("tenant_id", tenantID(creds)).Str("kind", kind).Msg("outbound send gated: subscription inactive")
		outboundTotal.WithLabelValues(kind, "gated").Inc()
		return false
	}

	if _, err := call(token, phoneID); err != nil {
		logProviderFailure(kind, err)
		outboundTotal.WithLabelValues(kind, "error").Inc()
		return false
	}
	outboundTotal.WithLabelValues(kind, "ok").Inc()
	return true
}

// credentials picks per-call credentials, or the explicit process-wide
// defaults when the caller passed nil (manual paths). A nil creds with no
// defaults configured is a no-send, not a panic.
func (d *Dispatcher) credentials(creds *resolver.Credentials, kind string) (token, phoneID string, ok bool) {
	if creds != nil {
		return creds.AccessToken, creds.PhoneNumberID, true
	}
	if d.DefaultToken == "" || d.DefaultPhoneNumberID == "" {
		log.Warn().Str("kind", kind).Msg("dispatch skipped: nil credentials and no defaults configured")
		outboundTotal.WithLabelValues(kind, "no_credentials").Inc()
		return "", "", false
	}
	return d.DefaultToken, d.DefaultPhoneNumberID, true
}

// sendAllowed gates production sends on the tenant subscription. Default
// credentials (nil creds) are manual paths and always allowed.
func (d *Dispatcher) sendAllowed(creds *resolver.Credentials) bool {
	if creds == nil || d.AllowInactive {
		return true
	}
	return creds.SubscriptionActive
}

// operatorNumber resolves the escalation target: tenant setting first, then
// the global fallback.
func (d *Dispatcher) operatorNumber(creds *resolver.Credentials) string {
	if creds != nil && creds.Settings.OperatorPhone != "" {
		return creds.Settings.OperatorPhone
	}
	return d.FallbackOperator
}

// formatEscalation renders the operator message. The urgency tier changes
// the framing only; delivery is identical.
func formatEscalation(esc Escalation) string {
	var b strings.Builder
	switch esc.Urgency {
	case UrgencyVIP:
		b.WriteString("🌟 VIP — atendimento prioritário\n")
	case UrgencyUrgent:
		b.WriteString("🚨 URGENTE — cliente aguardando\n")
	default:
		b.WriteString("📩 Atendimento transferido\n")
	}
	fmt.Fprintf(&b, "Cliente: %s (%s)\n", esc.CustomerName, esc.CustomerPhone)
	if esc.Reason != "" {
		fmt.Fprintf(&b, "Motivo: %s\n", esc.Reason)
	}
	if len(esc.Excerpt) > 0 {
		b.WriteString("Últimas mensagens:\n")
		for _, line := range esc.Excerpt {
			fmt.Fprintf(&b, "• %s\n", line)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// logProviderFailure emits the structured reason without changing the
// boolean contract seen by callers.
func logProviderFailure(kind string, err error) {
	ev := log.Error().Str("kind", kind)
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		ev = ev.Int("provider_status", apiErr.StatusCode).Str("provider_body", apiErr.Body)
	} else {
		ev = ev.Err(err)
	}
	ev.Msg("outbound dispatch failed")
}

// providerMessage extracts a caller-facing error string.
func providerMessage(err error) string {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return err.Error()
}

// tenantID is a nil-safe accessor for logging.
func tenantID(creds *resolver.Credentials) string {
	if creds == nil {
		return ""
	}
	return creds.TenantID
}
