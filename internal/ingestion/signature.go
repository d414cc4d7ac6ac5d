package ingestion

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hivedesk/hivedesk/internal/domain"
)

// SignatureHeaders carries the provider-specific signature material lifted
// off the inbound request.
type SignatureHeaders struct {
	// Signature is the raw signature header value.
	Signature string
	// Timestamp is the provider timestamp header, when the scheme signs one
	// (Slack).
	Timestamp string
}

// signatureSkew is the maximum accepted clock drift for timestamped schemes.
const signatureSkew = 5 * time.Minute

// VerifySignature checks an inbound payload against the integration's shared
// webhook secret using the connector's signing scheme. All comparisons are
// constant-time. An empty configured secret skips verification entirely, for
// connectors the tenant registered without signing.
func VerifySignature(connectorID, secret string, headers SignatureHeaders, payload []byte) error {
	if secret == "" {
		return nil
	}
	if headers.Signature == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}

	switch connectorID {
	case domain.ConnectorType_Slack:
		return verifySlack(secret, headers, payload)
	case domain.ConnectorType_Stripe:
		return verifyStripe(secret, headers.Signature, payload)
	default:
		return verifyHubStyle(secret, headers.Signature, payload)
	}
}

// verifyHubStyle handles "sha256=<hex>" and "sha1=<hex>" signatures over the
// raw body, as sent by GitHub, Jira and Mailjet.
func verifyHubStyle(secret, signature string, payload []byte) error {
	scheme, digest, found := strings.Cut(signature, "=")
	if !found {
		return fmt.Errorf("%w: malformed signature header", domain.ErrInvalidSignature)
	}

	var expected []byte
	switch scheme {
	case "sha256":
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		expected = mac.Sum(nil)
	case "sha1":
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(payload)
		expected = mac.Sum(nil)
	default:
		return fmt.Errorf("%w: unsupported signature scheme %q", domain.ErrInvalidSignature, scheme)
	}

	provided, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrInvalidSignature)
	}

	if !hmac.Equal(expected, provided) {
		return domain.ErrInvalidSignature
	}

	return nil
}

// verifySlack implements the v0 signing scheme: HMAC-SHA256 over
// "v0:<timestamp>:<body>", with a replay window on the timestamp.
func verifySlack(secret string, headers SignatureHeaders, payload []byte) error {
	ts, err := strconv.ParseInt(headers.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing or malformed timestamp", domain.ErrInvalidSignature)
	}

	age := time.Since(time.Unix(ts, 0))
	if age > signatureSkew || age < -signatureSkew {
		return fmt.Errorf("%w: timestamp outside replay window", domain.ErrInvalidSignature)
	}

	base := fmt.Sprintf("v0:%s:%s", headers.Timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return domain.ErrInvalidSignature
	}

	return nil
}

// verifyStripe implements the "t=<ts>,v1=<hex>[,v1=<hex>...]" scheme:
// HMAC-SHA256 over "<timestamp>.<body>", accepting any matching v1 entry.
func verifyStripe(secret, signature string, payload []byte) error {
	var timestamp string
	var candidates []string

	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if timestamp == "" || len(candidates) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

// ComputeHubSignature produces a "sha256=<hex>" signature for a payload.
// Used by tests and by outbound webhook simulation in test mode.
func ComputeHubSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
