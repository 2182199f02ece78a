package pubsub

// MessagePublishedData is the CloudEvent payload delivered for a Pub/Sub
// trigger. Message.Data is base64-decoded by the JSON unmarshal.
type MessagePublishedData struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// SyncRequestedEvent asks the sync worker to run one full sync for a user.
type SyncRequestedEvent struct {
	UserID    string `json:"user_id"`
	SyncID    string `json:"sync_id"`
	Timestamp string `json:"timestamp"`
}

// SyncCompletedEvent reports the outcome of a finished sync run.
type SyncCompletedEvent struct {
	UserID     string `json:"user_id"`
	SyncID     string `json:"sync_id"`
	Downloaded int64  `json:"downloaded"`
	Skipped    int64  `json:"skipped_unchanged"`
	Empty      int64  `json:"downloaded_empty"`
	Failed     int64  `json:"failed"`
	TilesKey   string `json:"tiles_key,omitempty"`
}
