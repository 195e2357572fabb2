package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// GenerateCheckinReference creates the externally shareable reference printed
// on badges. It is not the row id; undoing and redoing a check-in produces a
// fresh reference.
func GenerateCheckinReference() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("chk_%d_%06d", timestamp, randomNum.Int64())
}

// GenerateID creates a random UUID v4 used as a primary key.
func GenerateID() string {
	return uuid.New().String()
}
