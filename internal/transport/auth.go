package transport

import (
	"strconv"
	"strings"
	"time"

	"github.com/your-org/roadrunner-sentry/internal/dsn"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// ProtocolVersion is the sentry_version sent in the auth header.
const ProtocolVersion = 7

// AuthHeader renders X-Sentry-Auth. The secret key is left out when the DSN
// has none.
func AuthHeader(d *dsn.Dsn, sdk protocol.SDKInfo, now time.Time) string {
	var b strings.Builder
	b.WriteString("Sentry sentry_version=")
	b.WriteString(strconv.Itoa(ProtocolVersion))
	b.WriteString(", sentry_client=")
	b.WriteString(sdk.Name)
	b.WriteByte('/')
	b.WriteString(sdk.Version)
	b.WriteString(", sentry_timestamp=")
	b.WriteString(strconv.FormatFloat(protocol.UnixSeconds(now), 'f', -1, 64))
	b.WriteString(", sentry_key=")
	b.WriteString(d.PublicKey())
	if secret := d.SecretKey(); secret != "" {
		b.WriteString(", sentry_secret=")
		b.WriteString(secret)
	}
	return b.String()
}
