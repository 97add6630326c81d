package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTaskID builds an identifier unique within the owner's board.
func NewTaskID(owner string) string {
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	raw := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + owner + "-" + rnd
	return base64.RawStdEncoding.EncodeToString([]byte(raw))
}
