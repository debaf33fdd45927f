// Package tools defines the closed set of side effects the agent may
// invoke and a single dispatcher that executes them.
//
// Each tool is a variant of a sealed interface rather than a string key, so
// adding a tool means adding a type and a dispatch arm the compiler can see.
// The only place tool names exist as strings is ParseCall, the boundary
// where the decision layer's opaque output enters the system.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vendra-ai/go-agent-backend/internal/calcom"
	"github.com/vendra-ai/go-agent-backend/internal/dispatch"
	"github.com/vendra-ai/go-agent-backend/internal/payments"
	"github.com/vendra-ai/go-agent-backend/internal/resolver"
)

// Call is one agent-invokable side effect. The marker method seals the set;
// Execute's type switch is exhaustive over it.
type Call interface {
	isToolCall()
	// Name returns the wire name used by the decision layer.
	Name() string
}

// ScheduleDemo books a demo slot for the customer.
type ScheduleDemo struct {
	Date         string `json:"date"` // 2006-01-02
	Time         string `json:"time"` // 15:04
	AttendeeName string `json:"name"`
	Email        string `json:"email"`
}

// CheckAvailability lists open demo slots for candidate dates.
type CheckAvailability struct {
	Dates []string `json:"dates"` // 2006-01-02
}

// CancelBooking cancels a previously created booking.
type CancelBooking struct {
	EventID string `json:"event_id"`
}

// UpdateBookingEmail corrects the attendee email on an existing booking.
type UpdateBookingEmail struct {
	EventID string `json:"event_id"`
	Email   string `json:"email"`
}

// SendPaymentLink issues a checkout link and delivers it to the customer.
type SendPaymentLink struct{}

// EscalateToHuman hands the conversation to the tenant's operator.
type EscalateToHuman struct {
	Reason  string   `json:"reason"`
	Urgency string   `json:"urgency"` // normal | urgent | vip
	Excerpt []string `json:"excerpt"`
}

func (ScheduleDemo) isToolCall()       {}
func (CheckAvailability) isToolCall()  {}
func (CancelBooking) isToolCall()      {}
func (UpdateBookingEmail) isToolCall() {}
func (SendPaymentLink) isToolCall()    {}
func (EscalateToHuman) isToolCall()    {}

func (ScheduleDemo) Name() string       { return "schedule_demo" }
func (CheckAvailability) Name() string  { return "check_availability" }
func (CancelBooking) Name() string      { return "cancel_booking" }
func (UpdateBookingEmail) Name() string { return "update_booking_email" }
func (SendPaymentLink) Name() string    { return "send_payment_link" }
func (EscalateToHuman) Name() string    { return "escalate_to_human" }

// ParseCall decodes one decision-layer tool invocation into its variant.
// Unknown names are an error, never a silent no-op.
func ParseCall(name string, args json.RawMessage) (Call, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	decode := func(v Call) (Call, error) {
		if err := json.Unmarshal(args, v); err != nil {
			return nil, fmt.Errorf("tool %s: bad arguments: %w", name, err)
		}
		return v, nil
	}
	switch name {
	case "schedule_demo":
		return decode(&ScheduleDemo{})
	case "check_availability":
		return decode(&CheckAvailability{})
	case "cancel_booking":
		return decode(&CancelBooking{})
	case "update_booking_email":
		return decode(&UpdateBookingEmail{})
	case "send_payment_link":
		return decode(&SendPaymentLink{})
	case "escalate_to_human":
		return decode(&EscalateToHuman{})
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// Result is what the decision layer gets back after a tool runs.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Conversation is the tenant- and customer-scoped context a tool runs in.
type Conversation struct {
	Creds         *resolver.Credentials
	CustomerPhone string
	CustomerName  string
}

// Calendar is the slice of the scheduling adapter the executor uses.
type Calendar interface {
	CheckAvailability(ctx context.Context, dates []string, cred *calcom.Credential) []calcom.Slot
	CreateBooking(ctx context.Context, req calcom.BookingRequest, cred *calcom.Credential) calcom.Booking
	CancelBooking(ctx context.Context, eventID string, cred *calcom.Credential) bool
	UpdateBookingEmail(ctx context.Context, eventID, email string, cred *calcom.Credential) bool
}

// PaymentLinks is the slice of the billing adapter the executor uses.
type PaymentLinks interface {
	CreateLink(ctx context.Context, customerRef string, cred *payments.Credential) payments.Link
}

// Notifier sends outbound messages and escalations on the tenant's channel.
type Notifier interface {
	SendText(ctx context.Context, creds *resolver.Credentials, to, body string) bool
	EscalateToHuman(ctx context.Context, creds *resolver.Credentials, esc dispatch.Escalation) bool
}

// Executor runs tool calls against the tenant's configured providers.
type Executor struct {
	Calendar Calendar
	Payments PaymentLinks
	Notifier Notifier
}

// Execute runs one call and reports a structured result. Tool failures are
// data for the decision layer, not pipeline errors; err is reserved for
// calls that cannot be dispatched at all.
func (e *Executor) Execute(ctx context.Context, call Call, conv Conversation) (Result, error) {
	ctx, span := otel.Tracer("tools").Start(ctx, "Execute")
	span.SetAttributes(attribute.String("tool", call.Name()))
	defer span.End()

	switch c := call.(type) {
	case *ScheduleDemo:
		return e.scheduleDemo(ctx, c, conv), nil
	case *CheckAvailability:
		return e.checkAvailability(ctx, c, conv), nil
	case *CancelBooking:
		ok := e.Calendar.CancelBooking(ctx, c.EventID, calendarCred(conv.Creds))
		return boolResult(c, ok, "booking cancelled", "booking could not be cancelled"), nil
	case *UpdateBookingEmail:
		ok := e.Calendar.UpdateBookingEmail(ctx, c.EventID, c.Email, calendarCred(conv.Creds))
		return boolResult(c, ok, "booking email updated", "booking email could not be updated"), nil
	case *SendPaymentLink:
		return e.sendPaymentLink(ctx, c, conv), nil
	case *EscalateToHuman:
		return e.escalate(ctx, c, conv), nil
	default:
		return Result{}, fmt.Errorf("unhandled tool variant %T", call)
	}
}

func (e *Executor) scheduleDemo(ctx context.Context, c *ScheduleDemo, conv Conversation) Result {
	name := c.AttendeeName
	if name == "" {
		name = conv.CustomerName
	}
	booking := e.Calendar.CreateBooking(ctx, calcom.BookingRequest{
		Date:  c.Date,
		Time:  c.Time,
		Name:  name,
		Phone: conv.CustomerPhone,
		Email: c.Email,
	}, calendarCred(conv.Creds))
	if !booking.Success {
		return Result{Tool: c.Name(), Success: false, Detail: booking.Error}
	}
	return Result{Tool: c.Name(), Success: true, Detail: "demo booked", Data: booking}
}

func (e *Executor) checkAvailability(ctx context.Context, c *CheckAvailability, conv Conversation) Result {
	slots := e.Calendar.CheckAvailability(ctx, c.Dates, calendarCred(conv.Creds))
	return Result{
		Tool:    c.Name(),
		Success: true,
		Detail:  fmt.Sprintf("%d open slots", len(slots)),
		Data:    slots,
	}
}

func (e *Executor) sendPaymentLink(ctx context.Context, c *SendPaymentLink, conv Conversation) Result {
	link := e.Payments.CreateLink(ctx, conv.CustomerPhone, paymentCred(conv.Creds))
	if !link.Success {
		return Result{Tool: c.Name(), Success: false, Detail: link.Error}
	}
	body := "Aqui está o seu link de pagamento: " + link.URL
	if !e.Notifier.SendText(ctx, conv.Creds, conv.CustomerPhone, body) {
		return Result{Tool: c.Name(), Success: false, Detail: "link created but delivery failed", Data: link}
	}
	return Result{Tool: c.Name(), Success: true, Detail: "payment link sent", Data: link}
}

func (e *Executor) escalate(ctx context.Context, c *EscalateToHuman, conv Conversation) Result {
	ok := e.Notifier.EscalateToHuman(ctx, conv.Creds, dispatch.Escalation{
		CustomerName:  conv.CustomerName,
		CustomerPhone: conv.CustomerPhone,
		Reason:        c.Reason,
		Excerpt:       c.Excerpt,
		Urgency:       parseUrgency(c.Urgency),
	})
	return boolResult(c, ok, "operator notified", "operator could not be reached")
}

func boolResult(c Call, ok bool, okDetail, failDetail string) Result {
	if ok {
		return Result{Tool: c.Name(), Success: true, Detail: okDetail}
	}
	log.Warn().Str("tool", c.Name()).Msg("tool side effect failed")
	return Result{Tool: c.Name(), Success: false, Detail: failDetail}
}

func parseUrgency(s string) dispatch.Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vip":
		return dispatch.UrgencyVIP
	case "urgent":
		return dispatch.UrgencyUrgent
	default:
		return dispatch.UrgencyNormal
	}
}

// calendarCred maps tenant settings to a calendar credential; nil when the
// tenant has none so the adapter falls back to the global default.
func calendarCred(creds *resolver.Credentials) *calcom.Credential {
	if creds == nil || creds.Settings.CalendarAPIKey == "" {
		return nil
	}
	return &calcom.Credential{
		APIKey:      creds.Settings.CalendarAPIKey,
		EventTypeID: creds.Settings.CalendarEventTypeID,
		TenantID:    creds.TenantID,
	}
}

func paymentCred(creds *resolver.Credentials) *payments.Credential {
	if creds == nil || creds.Settings.PaymentAPIKey == "" {
		return nil
	}
	return &payments.Credential{
		APIKey:   creds.Settings.PaymentAPIKey,
		PriceID:  creds.Settings.PaymentPriceID,
		TenantID: creds.TenantID,
	}
}
