package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FallbackPrefix marks fingerprints generated when a required field was
// missing. Fallback ids are random, so dedup is disabled for those records.
const FallbackPrefix = "fallback_"

// fingerprintSeparator joins the fields before hashing. Not expected to
// appear inside any field.
const fingerprintSeparator = "|"

// Fingerprint derives the deterministic natural key for a transaction from
// {user id, account id, provider tx id, amount, timestamp}. Amount and
// timestamp participate as their raw wire strings so the same bytes always
// hash to the same key across processes and languages: the value is the
// first 32 hex characters of the SHA-256 digest of the joined fields.
//
// When any field is empty the record cannot be deduplicated; Fingerprint logs
// a warning and returns a random fallback id instead of failing the record.
func Fingerprint(logger *zap.Logger, userID, accountID, providerTxID, amount, ts string) string {
	if userID == "" || accountID == "" || providerTxID == "" || amount == "" || ts == "" {
		fallback := FallbackPrefix + randomHex16()
		logger.Warn("fingerprint input incomplete, dedup disabled for record",
			zap.String("provider_tx_id", providerTxID),
			zap.String("fallback_id", fallback))
		return fallback
	}

	joined := strings.Join([]string{userID, accountID, providerTxID, amount, ts}, fingerprintSeparator)
	digest := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(digest[:])[:32]
}

func randomHex16() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:16]
}
