package mwah

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// RoomCodeLength is the length of a room code.
const RoomCodeLength = 8

// roomCodeAlphabet omits characters that are easy to misread (I, O, 0, 1).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRoomCode returns a fresh random room code.
func GenerateRoomCode() (string, error) {
	var b strings.Builder
	b.Grow(RoomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := 0; i < RoomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeRoomCode trims and upper-cases a room code typed by a user and
// checks that it could have come from GenerateRoomCode.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != RoomCodeLength {
		return "", ErrInvalidRoomCode
	}
	for _, r := range code {
		if !strings.ContainsRune(roomCodeAlphabet, r) {
			return "", ErrInvalidRoomCode
		}
	}
	return code, nil
}

// NewSenderID returns a random identity for this device. Callers persist it
// so that the same device keeps the same ID across runs.
func NewSenderID() string {
	return strings.ToUpper(uuid.NewString())
}
