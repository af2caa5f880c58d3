package subscription

import (
	"strconv"
	"strings"
	"time"
)

const adminGrantPrefix = "admin_grant_"

// DefaultAdminGrantDays is the grant length when none is configured.
const DefaultAdminGrantDays = 365

// AdminGrantID builds the subscription id of a grant issued at t.
func AdminGrantID(userID string, t time.Time) string {
	return adminGrantPrefix + userID + "_" + strconv.FormatInt(t.UnixMilli(), 10)
}

// IsAdminGrantID reports whether id was produced by AdminGrantID.
// Such subscriptions exist only locally and never reach the provider.
func IsAdminGrantID(id string) bool {
	return strings.HasPrefix(id, adminGrantPrefix)
}
