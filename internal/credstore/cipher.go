package credstore

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Stored values are obfuscated, not encrypted. The transform is a reversible
// XOR keystream with a key that ships in the binary — it prevents casual
// inspection of the store with a sqlite shell and nothing more. Do not treat
// it as a security boundary.

// valuePrefix marks an obfuscated value. Values without it are treated as
// legacy plaintext from stores written before obfuscation existed.
const valuePrefix = "vd1:"

// defaultObfuscationKey matches the key the legacy portal shipped with.
const defaultObfuscationKey = "curriculum-vault-drive-default-key-change-in-production"

// errNotObfuscated reports a value that does not carry the obfuscation prefix
// or fails to decode. Callers fall back to the raw stored string.
var errNotObfuscated = errors.New("credstore: value is not obfuscated")

// encode obfuscates a plaintext value for storage.
func encode(plaintext, key string) string {
	data := []byte(plaintext)
	k := []byte(key)

	for i := range data {
		data[i] ^= k[i%len(k)]
	}

	return valuePrefix + base64.StdEncoding.EncodeToString(data)
}

// decode reverses encode. Returns errNotObfuscated when the value lacks the
// prefix or is not valid base64, so callers can keep legacy plaintext working.
func decode(stored, key string) (string, error) {
	if !strings.HasPrefix(stored, valuePrefix) {
		return "", errNotObfuscated
	}

	data, err := base64.StdEncoding.DecodeString(stored[len(valuePrefix):])
	if err != nil {
		return "", errNotObfuscated
	}

	k := []byte(key)
	for i := range data {
		data[i] ^= k[i%len(k)]
	}

	return string(data), nil
}
