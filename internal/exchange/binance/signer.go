package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const defaultRecvWindow = 5000

// hmacSigner signs requests the venue's way: the full query string is
// HMAC-SHA256'd with the secret and appended as the signature
// parameter; the API key travels in a header.
type hmacSigner struct {
	apiKey    string
	secretKey string
}

func newHMACSigner(apiKey, secretKey string) *hmacSigner {
	return &hmacSigner{apiKey: apiKey, secretKey: secretKey}
}

func (s *hmacSigner) SignRequest(req *http.Request) error {
	q := req.URL.Query()
	q.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	q.Set("recvWindow", fmt.Sprintf("%d", defaultRecvWindow))

	payload := q.Encode()

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	if _, err := mac.Write([]byte(payload)); err != nil {
		return fmt.Errorf("failed to sign payload: %w", err)
	}

	req.URL.RawQuery = payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
	req.Header.Set("X-MBX-APIKEY", s.apiKey)
	return nil
}
