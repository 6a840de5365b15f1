// Package render turns step templates into personalized email content using
// the Liquid template language, and applies compliance footers before a
// message is persisted.
package render

import (
	"fmt"
	"html"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// Engine renders Liquid templates with compiled-template caching. Rendering
// is lax: a template error falls back to the raw template so a bad merge tag
// never blocks a campaign.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template keyed by template source
}

// NewEngine builds a render engine with the personalization filters steps
// rely on.
func NewEngine() *Engine {
	e := &Engine{engine: liquid.NewEngine()}

	// {{ first_name | default: "there" }}
	e.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	// {{ email | urlencode }}
	e.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})
	// {{ company | escape }}
	e.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
	// {{ name | capitalize }}
	e.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	return e
}

// Bindings assembles the template context for a recipient. Metadata keys are
// merged first so the standard fields always win.
func Bindings(r *domain.Recipient) map[string]interface{} {
	ctx := make(map[string]interface{}, len(r.Metadata)+5)
	for k, v := range r.Metadata {
		ctx[k] = v
	}
	ctx["email"] = r.Email
	ctx["first_name"] = r.FirstName
	ctx["last_name"] = r.LastName
	ctx["full_name"] = strings.TrimSpace(r.FirstName + " " + r.LastName)
	ctx["company"] = r.Company
	return ctx
}

// Render parses and renders source against the binding context. Parse and
// render errors are logged and the raw source returned, so malformed
// templates degrade to unpersonalized sends instead of failures.
func (e *Engine) Render(source string, ctx map[string]interface{}) string {
	if source == "" || !strings.Contains(source, "{") {
		return source
	}

	tpl, err := e.compiled(source)
	if err != nil {
		log.Printf("[Render] parse error, sending raw template: %v", err)
		return source
	}
	out, err := tpl.RenderString(ctx)
	if err != nil {
		log.Printf("[Render] render error, sending raw template: %v", err)
		return source
	}
	return out
}

func (e *Engine) compiled(source string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := e.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	e.cache.Store(source, tpl)
	return tpl, nil
}
