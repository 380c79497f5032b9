package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strconv"
	"time"
)

const (
	ReferencePrefixOrder  = "pedido"
	ReferencePrefixUpsell = "upsell"
)

func GenerateRandomString(length int) string {
	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	result := make([]byte, length)
	for i := range result {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[n.Int64()]
	}
	return string(result)
}

// NewOrderReference builds "<prefix>-<unix ms>-<9 random chars>".
func NewOrderReference(prefix string, now time.Time) string {
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + GenerateRandomString(9)
}

// SecretsEqual compares two shared secrets in constant time.
func SecretsEqual(a, b string) bool {
	ma := hmac.New(sha256.New, []byte("pix-checkout"))
	ma.Write([]byte(a))
	mb := hmac.New(sha256.New, []byte("pix-checkout"))
	mb.Write([]byte(b))
	return hmac.Equal(ma.Sum(nil), mb.Sum(nil))
}
