package render

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// Compliance builds unsubscribe links and appends the sender's footer to
// outgoing HTML. Links are HMAC-signed so the unsubscribe endpoint can reject
// forged recipient IDs.
type Compliance struct {
	baseURL    string
	signingKey []byte

	// Fallback identity used when the sender has no settings row.
	companyName     string
	physicalAddress string
}

// NewCompliance builds a footer/unsubscribe helper. baseURL is the public
// origin the unsubscribe endpoint is served from.
func NewCompliance(baseURL, signingKey, companyName, physicalAddress string) *Compliance {
	return &Compliance{
		baseURL:         strings.TrimRight(baseURL, "/"),
		signingKey:      []byte(signingKey),
		companyName:     companyName,
		physicalAddress: physicalAddress,
	}
}

// UnsubscribeURL returns the signed one-click unsubscribe link for a
// recipient.
func (c *Compliance) UnsubscribeURL(campaignID, recipientID uuid.UUID) string {
	payload := campaignID.String() + ":" + recipientID.String()
	return fmt.Sprintf("%s/unsubscribe?c=%s&r=%s&sig=%s",
		c.baseURL, campaignID, recipientID, c.sign(payload))
}

// VerifySignature checks an unsubscribe link signature in constant time.
func (c *Compliance) VerifySignature(campaignID, recipientID uuid.UUID, sig string) bool {
	expected := c.sign(campaignID.String() + ":" + recipientID.String())
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (c *Compliance) sign(payload string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// ApplyFooter appends the compliance footer to rendered HTML, inserting
// before </body> when present and appending otherwise. Per-user settings win
// over the configured fallback identity.
func (c *Compliance) ApplyFooter(htmlBody string, settings *domain.ComplianceSettings, campaignID, recipientID uuid.UUID) string {
	footer := c.footerHTML(settings, campaignID, recipientID)
	if footer == "" {
		return htmlBody
	}
	if idx := strings.LastIndex(strings.ToLower(htmlBody), "</body>"); idx >= 0 {
		return htmlBody[:idx] + footer + htmlBody[idx:]
	}
	return htmlBody + footer
}

func (c *Compliance) footerHTML(settings *domain.ComplianceSettings, campaignID, recipientID uuid.UUID) string {
	unsubURL := c.UnsubscribeURL(campaignID, recipientID)

	if settings != nil && settings.FooterHTML != "" {
		// Custom footers use {{unsubscribe_url}} as a literal placeholder.
		return strings.ReplaceAll(settings.FooterHTML, "{{unsubscribe_url}}", unsubURL)
	}

	name := c.companyName
	address := c.physicalAddress
	if settings != nil {
		if settings.CompanyName != "" {
			name = settings.CompanyName
		}
		if settings.CompanyAddress != "" {
			address = settings.CompanyAddress
		}
	}

	var b strings.Builder
	b.WriteString(`<div style="font-size:12px;color:#888;margin-top:24px;text-align:center;">`)
	if name != "" || address != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(strings.TrimSpace(name + " " + address)))
		b.WriteString("</p>")
	}
	b.WriteString(fmt.Sprintf(`<p><a href="%s">Unsubscribe</a></p></div>`, unsubURL))
	return b.String()
}
