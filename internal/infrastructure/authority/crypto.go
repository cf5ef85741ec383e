package authority

import (
	"crypto/aes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

const signatureTimeLayout = "20060102150405"

var errBadPadding = errors.New("invalid token padding")

// passwordHash is the uppercase hex SHA-512 of the technical user's password.
func passwordHash(password string) string {
	sum := sha512.Sum512([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// requestSignature signs a request with the tenant's signing key.
// Submission requests append one hash per operation, in index order.
func requestSignature(requestID string, ts time.Time, signingKey string, itemHashes ...string) string {
	var b strings.Builder
	b.WriteString(requestID)
	b.WriteString(ts.UTC().Format(signatureTimeLayout))
	b.WriteString(signingKey)
	for _, h := range itemHashes {
		b.WriteString(h)
	}
	return sha3Upper(b.String())
}

// operationHash covers one submitted item: operation name followed by the base64 payload.
func operationHash(operation, encodedPayload string) string {
	return sha3Upper(operation + encodedPayload)
}

func sha3Upper(s string) string {
	sum := sha3.Sum512([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// decryptToken opens the exchange token with the tenant's exchange key.
// The authority encrypts with AES-128 in ECB mode and PKCS#7 padding.
func decryptToken(encoded, exchangeKey string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	block, err := aes.NewCipher([]byte(exchangeKey))
	if err != nil {
		return "", fmt.Errorf("exchange key: %w", err)
	}
	size := block.BlockSize()
	if len(data) == 0 || len(data)%size != 0 {
		return "", fmt.Errorf("token length %d is not a multiple of %d", len(data), size)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += size {
		block.Decrypt(out[i:i+size], data[i:i+size])
	}

	pad := int(out[len(out)-1])
	if pad == 0 || pad > size || pad > len(out) {
		return "", errBadPadding
	}
	for _, c := range out[len(out)-pad:] {
		if int(c) != pad {
			return "", errBadPadding
		}
	}
	return string(out[:len(out)-pad]), nil
}
