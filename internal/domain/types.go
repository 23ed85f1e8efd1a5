package domain

import "time"

type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateAuthenticated SessionState = "authenticated"
)

// Recoverable reports whether a persisted session in this state should be
// re-initialized after a process restart.
func (s SessionState) Recoverable() bool {
	switch s {
	case StateConnecting, StateConnected, StateAuthenticated:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageQueued     MessageStatus = "queued"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)

type MediaType string

const (
	MediaNone     MediaType = "none"
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

type TransactionKind string

const (
	KindPurchase    TransactionKind = "purchase"
	KindConsumption TransactionKind = "consumption"
	KindRefund      TransactionKind = "refund"
	KindAdjustment  TransactionKind = "adjustment"
)

type SubmitJobRequest struct {
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`
	TokenCost  int64    `json:"tokenCost"`
}

func (r SubmitJobRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return ErrNoRecipients
	}
	if r.Content == "" {
		return ErrEmptyContent
	}
	if r.TokenCost != int64(len(r.Recipients)) {
		return ErrCostMismatch
	}
	return nil
}

type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// RecipientError records one failed send within a job.
type RecipientError struct {
	Number string `json:"number"`
	Error  string `json:"error"`
}

type SessionStatus struct {
	State        SessionState `json:"status"`
	Message      string       `json:"message"`
	QRCode       string       `json:"qrCode,omitempty"`
	LastActivity time.Time    `json:"lastActivity,omitempty"`
}

// StatusMessage is the human-readable companion to a session state, shown in
// the tenant dashboard next to the QR code.
func StatusMessage(s SessionState) string {
	switch s {
	case StateDisconnected:
		return "Session disconnected. Start a session and scan the QR code."
	case StateConnecting:
		return "Connecting. Scan the QR code when prompted."
	case StateConnected:
		return "Authenticated, preparing connection..."
	case StateAuthenticated:
		return "Connected and ready to send messages."
	default:
		return "Unknown state."
	}
}

// TokenPackage is a purchasable bundle of tokens. Prices are in cents.
type TokenPackage struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tokens int64  `json:"tokens"`
	Price  int64  `json:"price"`
}

func TokenPackages() []TokenPackage {
	return []TokenPackage{
		{ID: "basic", Name: "Basic", Tokens: 100, Price: 4900},
		{ID: "standard", Name: "Standard", Tokens: 500, Price: 19900},
		{ID: "premium", Name: "Premium", Tokens: 1000, Price: 34900},
		{ID: "enterprise", Name: "Enterprise", Tokens: 5000, Price: 149900},
	}
}

func FindTokenPackage(id string) (TokenPackage, bool) {
	for _, p := range TokenPackages() {
		if p.ID == id {
			return p, true
		}
	}
	return TokenPackage{}, false
}

// MediaTypeForFile classifies an uploaded file by extension (lowercased,
// including the dot).
func MediaTypeForFile(ext string) MediaType {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif":
		return MediaImage
	case ".mp4", ".mkv", ".avi", ".mov":
		return MediaVideo
	case ".mp3", ".ogg", ".wav":
		return MediaAudio
	default:
		return MediaDocument
	}
}
