package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SumObject hashes the canonical JSON encoding of v. json.Marshal sorts
// map keys, so structurally equal values hash identically.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), b, nil
}

// ChainSum extends a hash chain: sum over the previous link's hash and
// the canonical encoding of v. An empty prev starts a new chain.
func ChainSum(prev string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{'\n'})
	h.Write(b)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
