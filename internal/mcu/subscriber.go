package mcu

import (
	crand "crypto/rand"
	"encoding/hex"
)

func newSubscriber() (string, chan string) {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b), make(chan string, 32)
}
