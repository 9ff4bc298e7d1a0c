package embeddings

import (
	"encoding/hex"
	"hash/fnv"
)

// ContentHash returns a 16-character hex FNV-1a hash of text, used as a
// stable identifier for an embedded input.
func ContentHash(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
