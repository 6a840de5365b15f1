package render

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/leadmap/campaign-engine/internal/domain"
)

func TestRenderPersonalization(t *testing.T) {
	e := NewEngine()
	r := &domain.Recipient{
		Email:     "ada@example.com",
		FirstName: "Ada",
		Company:   "Analytical Engines",
		Metadata:  domain.Metadata{"title": "CTO"},
	}

	out := e.Render("Hi {{ first_name }}, saw {{ company }} is hiring a {{ title }}.", Bindings(r))
	assert.Equal(t, "Hi Ada, saw Analytical Engines is hiring a CTO.", out)
}

func TestRenderDefaultFilter(t *testing.T) {
	e := NewEngine()
	r := &domain.Recipient{Email: "x@example.com"}

	out := e.Render(`Hi {{ first_name | default: "there" }}!`, Bindings(r))
	assert.Equal(t, "Hi there!", out)
}

func TestRenderMalformedTemplateFallsBack(t *testing.T) {
	e := NewEngine()
	src := "Hi {{ first_name"
	out := e.Render(src, map[string]interface{}{"first_name": "Ada"})
	assert.Equal(t, src, out, "parse failures send the raw template")
}

func TestRenderStandardFieldsWinOverMetadata(t *testing.T) {
	e := NewEngine()
	r := &domain.Recipient{
		Email:     "ada@example.com",
		FirstName: "Ada",
		Metadata:  domain.Metadata{"first_name": "Wrong"},
	}
	out := e.Render("{{ first_name }}", Bindings(r))
	assert.Equal(t, "Ada", out)
}

func TestUnsubscribeURLSigning(t *testing.T) {
	c := NewCompliance("https://app.example.com", "secret-key", "", "")
	campaignID, recipientID := uuid.New(), uuid.New()

	u := c.UnsubscribeURL(campaignID, recipientID)
	assert.Contains(t, u, "https://app.example.com/unsubscribe?")
	assert.Contains(t, u, campaignID.String())

	sig := u[strings.LastIndex(u, "sig=")+4:]
	assert.True(t, c.VerifySignature(campaignID, recipientID, sig))
	assert.False(t, c.VerifySignature(campaignID, uuid.New(), sig), "signature binds the recipient")

	other := NewCompliance("https://app.example.com", "different-key", "", "")
	assert.False(t, other.VerifySignature(campaignID, recipientID, sig))
}

func TestApplyFooterBeforeBodyClose(t *testing.T) {
	c := NewCompliance("https://app.example.com", "k", "Acme Inc", "1 Main St")
	out := c.ApplyFooter("<html><body><p>Hi</p></body></html>", nil, uuid.New(), uuid.New())

	assert.Contains(t, out, "Unsubscribe")
	assert.Contains(t, out, "Acme Inc")
	assert.True(t, strings.Index(out, "Unsubscribe") < strings.Index(out, "</body>"))
}

func TestApplyFooterCustomSettings(t *testing.T) {
	c := NewCompliance("https://app.example.com", "k", "Fallback Co", "")
	settings := &domain.ComplianceSettings{
		FooterHTML: `<p>Bye. <a href="{{unsubscribe_url}}">Opt out</a></p>`,
	}
	out := c.ApplyFooter("<p>Hi</p>", settings, uuid.New(), uuid.New())

	assert.Contains(t, out, "Opt out")
	assert.Contains(t, out, "/unsubscribe?")
	assert.NotContains(t, out, "{{unsubscribe_url}}")
	assert.NotContains(t, out, "Fallback Co")
}

func TestApplyFooterNoBodyTagAppends(t *testing.T) {
	c := NewCompliance("https://app.example.com", "k", "", "")
	out := c.ApplyFooter("<p>Hi</p>", nil, uuid.New(), uuid.New())
	assert.True(t, strings.HasPrefix(out, "<p>Hi</p>"))
	assert.Contains(t, out, "Unsubscribe")
}
