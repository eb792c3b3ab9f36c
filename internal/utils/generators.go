package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateReferralCode returns a short human-shareable code. The alphabet
// drops lookalike characters (0/O, 1/I).
func GenerateReferralCode() string {
	code := make([]byte, 8)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralAlphabet))))
		if err != nil {
			return fmt.Sprintf("REF%d", time.Now().UnixNano()%100000000)
		}
		code[i] = referralAlphabet[n.Int64()]
	}
	return string(code)
}

func GenerateID() string {
	return uuid.NewString()
}
