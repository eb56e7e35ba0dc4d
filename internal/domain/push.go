package domain

// PushPayload is the out-of-band push body delivered to staff workers.
// Every field is optional and untrusted; receivers refetch the latest chat
// message as ground truth.
type PushPayload struct {
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Message    string `json:"message,omitempty"`
	URL        string `json:"url,omitempty"`
	Kind       string `json:"kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}
