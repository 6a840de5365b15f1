package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Tracker injects the open pixel and click-redirect wrapping into outgoing
// HTML at send time. Payloads are HMAC-signed so the tracking endpoints can
// verify them.
type Tracker struct {
	baseURL string
	secret  []byte
}

// NewTracker builds a tracker. baseURL is the public tracking origin.
func NewTracker(baseURL, secret string) *Tracker {
	return &Tracker{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}
}

func (t *Tracker) sign(data string) string {
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Inject adds the open pixel (when trackOpens) and rewrites links through
// the click redirect (when trackClicks). Already-wrapped and mailto links
// are left alone.
func (t *Tracker) Inject(html string, campaignID, recipientID, messageID uuid.UUID, trackOpens, trackClicks bool) string {
	if t.baseURL == "" || (!trackOpens && !trackClicks) {
		return html
	}

	data := fmt.Sprintf("%s|%s|%s", campaignID, recipientID, messageID)
	sig := t.sign(data)
	encoded := base64.URLEncoding.EncodeToString([]byte(data))

	if trackOpens {
		pixel := fmt.Sprintf(`<img src="%s/track/open/%s/%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`, t.baseURL, encoded, sig)
		if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
			html = html[:idx] + pixel + html[idx:]
		} else {
			html += pixel
		}
	}

	if trackClicks {
		html = linkRe.ReplaceAllStringFunc(html, func(match string) string {
			parts := linkRe.FindStringSubmatch(match)
			if len(parts) < 2 {
				return match
			}
			orig := parts[1]
			if strings.Contains(orig, "/track/") || strings.Contains(orig, "/unsubscribe") {
				return match
			}
			linkData := data + "|" + orig
			return fmt.Sprintf(`href="%s/track/click/%s/%s"`,
				t.baseURL, base64.URLEncoding.EncodeToString([]byte(linkData)), t.sign(linkData))
		})
	}

	return html
}

// Verify checks a tracking payload signature in constant time.
func (t *Tracker) Verify(data, sig string) bool {
	return hmac.Equal([]byte(t.sign(data)), []byte(sig))
}
