package notifier

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// GenerateInstanceID returns a unique string for this process (hostname+pid+random). It is
// the distinct id analytics events are reported under.
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "offline-maps"
	}

	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}
