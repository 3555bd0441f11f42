package shipbubblewebhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw body.
const SignatureHeader = "X-Ship-Signature"

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. An empty secret disables the check.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing")
	}
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute signature")
	}
	given, err := hex.DecodeString(strings.ToLower(header))
	if err != nil || !hmac.Equal(expected, given) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature invalid")
	}
	return nil
}
