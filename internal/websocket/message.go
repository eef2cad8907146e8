package websocket

import "encoding/json"

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// BackupProgress is the payload streamed while a run fetches files.
type BackupProgress struct {
	SiteID string `json:"siteId"`
	RunID  string `json:"runId"`
	File   string `json:"file"`
	Bytes  int64  `json:"bytes"`
}

// NewErrorMessage builds a serialized error frame for a client send channel.
func NewErrorMessage(text string) []byte {
	msg, _ := json.Marshal(Message{Action: "error", Payload: text})
	return msg
}
