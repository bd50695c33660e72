// Package ident generates record identifiers and the per-install device id.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record id format: <millis>-<32 hex chars>-<deviceId>
var recordIDRegex = regexp.MustCompile(`^\d{10,}-[0-9a-f]{32}-.+$`)

// Generator produces record identifiers that are unique within a device's
// lifetime and, with overwhelming probability, across devices. No coordination
// with the server or other devices is performed.
type Generator struct {
	deviceID string

	mu         sync.Mutex
	lastMillis int64
}

// NewGenerator creates a Generator bound to a persisted device id.
func NewGenerator(deviceID string) *Generator {
	return &Generator{deviceID: deviceID}
}

// DeviceID returns the device id this generator stamps onto ids.
func (g *Generator) DeviceID() string {
	return g.deviceID
}

// Generate returns a new record id. Calls within the same millisecond bump the
// timestamp component so ids stay monotonic under rapid-fire calls. This
// operation cannot fail: if the crypto randomness source is unavailable it
// falls back to math/rand for the token.
func (g *Generator) Generate() string {
	g.mu.Lock()
	millis := time.Now().UnixMilli()
	if millis <= g.lastMillis {
		millis = g.lastMillis + 1
	}
	g.lastMillis = millis
	g.mu.Unlock()

	return fmt.Sprintf("%d-%s-%s", millis, randomToken(), g.deviceID)
}

// randomToken returns 128 bits of randomness rendered as 32 hex characters.
func randomToken() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		for i := range buf {
			buf[i] = byte(mathrand.Intn(256))
		}
	}
	return hex.EncodeToString(buf[:])
}

// NewDeviceID generates a fresh per-install device identifier. Callers persist
// it once and reuse it across restarts.
func NewDeviceID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Entropy exhaustion is effectively unreachable, but device id
		// generation must not fail.
		return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), randomToken()[:12])
	}
	return id.String()
}

// IsValid checks whether s looks like a Generate-produced record id.
func IsValid(s string) bool {
	return recordIDRegex.MatchString(s)
}

// Millis extracts the timestamp component of a record id.
// Returns zero when the id does not parse.
func Millis(id string) int64 {
	i := strings.IndexByte(id, '-')
	if i < 0 {
		return 0
	}
	millis, err := strconv.ParseInt(id[:i], 10, 64)
	if err != nil {
		return 0
	}
	return millis
}
