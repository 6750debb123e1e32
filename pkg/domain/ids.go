package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespace for all deterministic ids. Content-derived ids are stable across
// runs so re-ingestion of the same input yields the same artifacts.
var idNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeterministicID derives a UUID from the given parts. Parts are joined with
// a NUL separator so ("ab","c") and ("a","bc") never collide.
func DeterministicID(parts ...string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00")))
}

// ContentHash returns the hex sha256 of raw document bytes.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DataID derives the id for an ingested document from its tenant and bytes.
func DataID(tenantID uuid.UUID, contentHash string) uuid.UUID {
	return DeterministicID("data", tenantID.String(), contentHash)
}

// ChunkID derives the id for a chunk from its parent, position and text.
func ChunkID(dataID uuid.UUID, chunkIndex int, text string) uuid.UUID {
	return DeterministicID("chunk", dataID.String(), fmt.Sprintf("%d", chunkIndex), ContentHash([]byte(text)))
}

// EntityID derives the id for an entity from its tenant, normalized name and
// type. Entities of different types never share an id.
func EntityID(tenantID uuid.UUID, normalizedName, entityType string) uuid.UUID {
	return DeterministicID("entity", tenantID.String(), normalizedName, entityType)
}

// CollectionName builds the vector collection name for a (tenant, dataset,
// node type, field) tuple. ASCII-safe, length-capped.
func CollectionName(tenantID, datasetID uuid.UUID, nodeType, field string) string {
	name := fmt.Sprintf("%s_%s_%s_%s",
		compactUUID(tenantID), compactUUID(datasetID),
		sanitizeToken(nodeType), sanitizeToken(field))
	const maxLen = 63
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

func compactUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

func sanitizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
