package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Signer produces the authentication headers the aggregator requires on
// every request. The signature covers timestamp+METHOD+path+body so a
// captured request cannot be replayed against another endpoint.
type Signer struct {
	apiKey     string
	apiSecret  string
	passphrase string
	now        func() time.Time
}

func NewSigner(apiKey, apiSecret, passphrase string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// Sign returns the header set for a request. path must include the query
// string when present; body is empty for GET requests.
func (s *Signer) Sign(method, path string, body []byte) map[string]string {
	timestamp := s.now().UTC().Format("2006-01-02T15:04:05.000Z")

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)

	return map[string]string{
		"OK-ACCESS-KEY":        s.apiKey,
		"OK-ACCESS-SIGN":       base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": s.passphrase,
	}
}
