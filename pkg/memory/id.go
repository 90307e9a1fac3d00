package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID prefixes.
const (
	PrefixMemory  = "memory"
	PrefixSummary = "summary"
	PrefixMerged  = "merged"
	PrefixSession = "session"
	PrefixMessage = "msg"
)

// NewID returns "<prefix>_<unix-ms>_<8 hex>".
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}
