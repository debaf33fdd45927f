package whatsapp

// Webhook payload types for the Graph API "messages" field, plus extraction
// into the flat shape the inbound pipeline consumes. Statuses (delivery
// receipts) are carried but not acted on.

// WebhookPayload is the top-level body of a webhook POST.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business-account scope inside a webhook delivery.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the messages and metadata of a "messages" change.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Metadata identifies the receiving number; PhoneNumberID is the tenant
// lookup key.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender's profile as shared by the provider.
type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// Profile is the sender's display profile.
type Profile struct {
	Name string `json:"name"`
}

// Message is one inbound message of any type.
type Message struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Text        *TextBody        `json:"text,omitempty"`
	Audio       *AudioBody       `json:"audio,omitempty"`
	Interactive *InteractiveBody `json:"interactive,omitempty"`
}

// TextBody is the text payload of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// AudioBody references a voice note or audio file hosted by the provider.
type AudioBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Voice    bool   `json:"voice"`
}

// InteractiveBody carries the customer's reply to a list or button message.
type InteractiveBody struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

// Reply is the selected option of an interactive message.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Status is a delivery receipt; ignored by the pipeline but parsed so the
// payload round-trips.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// InboundMessage is the flattened, channel-agnostic form handed to the
// inbound pipeline.
type InboundMessage struct {
	PhoneNumberID string // receiving number, tenant lookup key
	MessageID     string
	From          string
	ProfileName   string
	Type          string // text | audio | interactive
	Text          string // body, or interactive reply id
	MediaID       string // audio only
}

// ExtractMessages flattens a webhook payload into the messages the pipeline
// handles, dropping unsupported types and status-only deliveries.
func ExtractMessages(p *WebhookPayload) []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				im := InboundMessage{
					PhoneNumberID: v.Metadata.PhoneNumberID,
					MessageID:     m.ID,
					From:          m.From,
					ProfileName:   names[m.From],
					Type:          m.Type,
				}
				switch m.Type {
				case "text":
					if m.Text != nil {
						im.Text = m.Text.Body
					}
				case "audio":
					if m.Audio != nil {
						im.MediaID = m.Audio.ID
					}
				case "interactive":
					if m.Interactive != nil {
						if m.Interactive.ButtonReply != nil {
							im.Text = m.Interactive.ButtonReply.ID
						} else if m.Interactive.ListReply != nil {
							im.Text = m.Interactive.ListReply.ID
						}
					}
				default:
					continue
				}
				out = append(out, im)
			}
		}
	}
	return out
}
