package orders

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const numberAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

// NewOrderNumber returns an uppercase alphanumeric order number: "ORD", the
// base36 creation time and a random suffix. Uniqueness is enforced by the
// store's conditional create, not by this function.
func NewOrderNumber(now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString("ORD")
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := 0; i < 4; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(numberAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeOrderNumber trims and uppercases user-supplied order numbers.
func NormalizeOrderNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
