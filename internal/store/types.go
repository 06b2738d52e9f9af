package store

// Sender types for Message.SenderType.
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderBot     = "bot"
)

// Attachment kinds.
const (
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
)

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Integration holds the credentials for one registered channel number.
type Integration struct {
	ID            int64
	Name          string
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
	CreatedAt     int64
	UpdatedAt     int64
}

// Contact is an external identity known to the CRM.
type Contact struct {
	ID          int64
	ExternalID  string
	Name        string
	PhoneNumber string
	Notes       string
	Remarketing bool
	Tag         string
	CreatedAt   int64
	UpdatedAt   int64
}

// Agent is a human operator.
type Agent struct {
	ID   int64
	Name string
	Role string // admin, agent
}

// Bot is an automated responder.
type Bot struct {
	ID   int64
	Name string
}

// Conversation binds a contact to an integration. At most one of
// AssignedAgentID and AssignedBotID is non-nil.
type Conversation struct {
	ID                   int64
	ContactID            int64
	IntegrationID        int64
	AssignedAgentID      *int64
	AssignedBotID        *int64
	UnreadCount          int
	Read                 bool
	LastActivityAt       int64
	LastContactMessageAt int64
	CreatedAt            int64
	UpdatedAt            int64
}

// Message is a persisted conversation message. Timestamps are unix millis;
// ReadAt is zero until the message is read.
type Message struct {
	ID             int64
	ConversationID int64
	SenderType     string
	AgentID        *int64
	BotID          *int64
	Body           string
	MessageType    string
	WAMessageID    string
	CreatedAt      int64
	DeliveredAt    int64
	ReadAt         int64
	Attachments    []Attachment
}

// Attachment is a stored media file linked to a message.
type Attachment struct {
	ID              int64
	MessageID       int64
	Kind            string
	URL             string
	StorageKey      string
	MimeType        string
	SizeBytes       int64
	FileName        string
	DurationSeconds int64
	Width           int64
	Height          int64
	PreviewURL      string
	CreatedAt       int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	MessageID      int64
	IntegrationID  int64
	Recipient      string
	Kind           string // text, image, video, audio, document
	Body           string
	MediaID        string
	MediaLink      string
	FileName       string
	Status         string // queued, sending, sent, failed
	Attempts       int
	ErrorMessage   string
	ServerMsgID    string
	// ConversationID is resolved through the message on read.
	ConversationID int64
}

// PageCursor is the (delivered_at, id) boundary of a message page.
type PageCursor struct {
	ID          int64
	DeliveredAt int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
