package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// calculateRowHash calculates SHA256 hash of a row.
// File and line identify a journal record; redelivered events hash the same.
func calculateRowHash(row Row) string {
	h := sha256.New()

	fmt.Fprintf(h, "%s|", row.File)
	fmt.Fprintf(h, "%d|", row.Line)
	fmt.Fprintf(h, "%s|", row.Kind)
	fmt.Fprintf(h, "%s|", row.EventTime.UTC().Format(time.RFC3339Nano))

	return hex.EncodeToString(h.Sum(nil))
}
