package utils

import (
	"github.com/google/uuid"
)

// GenerateClientID generates a unique client ID
func GenerateClientID() string {
	return GenerateID("client")
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
