package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// canonicalQuery encodes params into the single deterministic query string
// the signature is computed over. url.Values.Encode sorts by key, so the
// same parameter set always produces the same bytes.
func canonicalQuery(params url.Values) string {
	return params.Encode()
}

// sign computes the hex-encoded HMAC-SHA256 of payload under secret. The
// payload must be the exact byte sequence that goes on the wire; any
// mutation after signing invalidates the request.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
