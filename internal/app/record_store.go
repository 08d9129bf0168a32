package app

import (
	"context"
	"fmt"
	"strconv"
)

// RecordStore abstracts the durable key-value persistence the session state
// machine and the retry queue survive reloads on (in-memory, Redis, etc).
type RecordStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Scan returns every key-value pair whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Key layout. The active session is a single slot per registration code, so
// exactly one attempt can be live for a participant at a time.
const uploadKeyPrefix = "upload:pending:"

func activeSessionKey(registrationCode string) string {
	return "quiz:active:" + registrationCode
}

func completedKey(registrationCode string, quizNumber int) string {
	return completedKeyPrefix(registrationCode) + strconv.Itoa(quizNumber)
}

func completedKeyPrefix(registrationCode string) string {
	return fmt.Sprintf("quiz:completed:%s:", registrationCode)
}

func uploadKey(id string) string {
	return uploadKeyPrefix + id
}
