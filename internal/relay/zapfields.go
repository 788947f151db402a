package relay

import (
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

const (
	projectField = "project-id"
	peerField    = "peer-id"
	secretField  = "project-secret-hashed"
)

func ProjectField(id uint64) zap.Field {
	return zap.Uint64(projectField, id)
}

func PeerField(peerID string) zap.Field {
	return zap.String(peerField, peerID)
}

func HashedSecretField(secret string) zap.Field {
	return zap.String(secretField, hashed(secret))
}

func hashed(s string) string {
	digest := sha256.Sum256([]byte(s))
	return hex.EncodeToString(digest[:])
}
