package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrSignatureExpired = errors.New("webhook signature expired")
)

// Signature is the parsed x-signature header: "ts=<unix>,v1=<hex hmac>".
type Signature struct {
	Timestamp string
	V1        string
}

// ParseSignature reads the x-signature header.
func ParseSignature(header string) (Signature, error) {
	var sig Signature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.Timestamp = strings.TrimSpace(value)
		case "v1":
			sig.V1 = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if sig.Timestamp == "" || sig.V1 == "" {
		return Signature{}, ErrSignatureMissing
	}
	return sig, nil
}

// SignatureManifest is the string the gateway signs for a notification.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

// Sign computes the v1 signature for the manifest.
func Sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the x-signature header of a notification. A zero
// tolerance disables the timestamp age check.
func VerifySignature(secret, header, requestID, dataID string, tolerance time.Duration, now time.Time) error {
	sig, err := ParseSignature(header)
	if err != nil {
		return err
	}

	expected := Sign(secret, SignatureManifest(dataID, requestID, sig.Timestamp))
	if !hmac.Equal([]byte(expected), []byte(sig.V1)) {
		return ErrSignatureInvalid
	}

	if tolerance > 0 {
		issued, err := parseSignatureTime(sig.Timestamp)
		if err != nil {
			return ErrSignatureInvalid
		}
		if now.Sub(issued) > tolerance || issued.Sub(now) > tolerance {
			return ErrSignatureExpired
		}
	}
	return nil
}

// The gateway sends seconds or milliseconds depending on the product.
func parseSignatureTime(ts string) (time.Time, error) {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
