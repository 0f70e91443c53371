package tool

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateMerchantMemberID builds the gateway member identifier for a card
// tokenization handshake. The gateway caps it at 30 characters; the layout
// "M<unix-seconds><10 hex chars>" stays well under that.
func GenerateMerchantMemberID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	id := fmt.Sprintf("M%d%s", now.Unix(), strings.ToUpper(suffix))
	if len(id) > 30 {
		id = id[:30]
	}
	return id
}
