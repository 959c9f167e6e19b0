// Package cache provides durable local key-value persistence for the SDK's
// cached blobs. Reads never touch the network; that is what lets the merge
// engine run synchronously from last-known state.
package cache

// Logical keys used by the session.
const (
	KeySchema    = "schemaCache"
	KeyUserState = "userStateCache"
	KeyInstallID = "installId"
)

// Store is the local cache contract. Get reports ok=false for a missing key;
// absence is not an error.
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
}
