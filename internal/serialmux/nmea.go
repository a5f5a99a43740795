package serialmux

import (
	"fmt"
	"strings"
)

// Checksum returns the NMEA-0183 checksum of a sentence body: the XOR of every
// byte between the leading '$' and the '*'.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// Sentence frames a body as "$body*HH". A leading '$' on body is ignored.
func Sentence(body string) string {
	body = strings.TrimPrefix(body, "$")
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}
