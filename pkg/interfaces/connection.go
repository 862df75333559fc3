package interfaces

// Handle is the live transport-level object for one connected client.
// WriteJSON must be safe for concurrent use; Close must be idempotent.
type Handle interface {
	WriteJSON(v interface{}) error
	Close() error
}
