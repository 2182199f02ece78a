package shared

const (
	ProjectID = "tracktiles-project" // Can be overridden by env var in main if needed

	TopicSyncRequested = "topic-sync-requested"
	TopicSyncCompleted = "topic-sync-completed"

	CollectionUsers      = "users"
	CollectionSyncStatus = "sync_status"
	CollectionOAuthState = "oauth_state"
)
