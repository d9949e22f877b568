package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Sign computes HMAC-SHA256(secret, params.Encode()) and returns the hex
// digest. It never mutates the caller's params — the caller is expected to
// pass a value it owns; Sign itself only reads from it via Encode, which
// does not mutate the receiver either, but we accept by value (url.Values
// is a map, so this is a contract note, not a language guarantee) to make
// the no-mutation invariant explicit at call sites: build the params you
// intend to sign, call Sign, then append "signature" yourself.
func Sign(secret string, params url.Values) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// cloneValues returns a deep-enough copy of params so that signing helpers
// can freely add timestamp/recvWindow/signature without mutating a caller's
// original url.Values.
func cloneValues(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
