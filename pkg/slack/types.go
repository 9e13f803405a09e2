package slack

// Channel mirrors the subset of workspace channel metadata the service
// consumes.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listChannelsResponse struct {
	OK       bool      `json:"ok"`
	Channels []Channel `json:"channels"`
	Error    string    `json:"error,omitempty"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	AsUser   bool   `json:"as_user"`
}

type postMessageResponse struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"ts"`
	Error     string `json:"error,omitempty"`
}
