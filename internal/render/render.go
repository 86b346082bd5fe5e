// Package render substitutes recipient and campaign variables into template
// text using the Liquid template language.
//
// Rendering never fails. A placeholder whose variable is not bound is left in
// the output exactly as written, and a template Liquid cannot parse falls back
// to plain {{ name }} substitution.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Vars is the typed variable map a template is rendered against.
type Vars map[string]string

// Well-known variable names.
const (
	VarEmail          = "email"
	VarFirstName      = "first_name"
	VarLastName       = "last_name"
	VarFullName       = "full_name"
	VarName           = "name"
	VarRecipientID    = "recipient_id"
	VarUnsubscribeURL = "unsubscribe_url"
	VarCampaignName   = "campaign_name"
	VarSegmentName    = "segment_name"
)

// Renderer renders Liquid templates with a leave-unresolved-literal policy.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a renderer with the custom filters registered.
func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if strings.TrimSpace(s) == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Casers keep state between calls, so each render gets its own.
	r.engine.RegisterFilter("titlecase", func(s string) string {
		return strings.Join(strings.Fields(cases.Title(language.Und).String(s)), " ")
	})
}

// Bindings builds the variable map for one recipient. Custom fields come
// first so the standard names and extra can override them.
func Bindings(rcpt domain.Recipient, extra map[string]string) Vars {
	vars := make(Vars, len(rcpt.Fields)+len(extra)+6)
	for k, v := range rcpt.Fields {
		vars[k] = v
	}
	vars[VarEmail] = rcpt.Email
	vars[VarFirstName] = rcpt.FirstName
	vars[VarLastName] = rcpt.LastName
	vars[VarFullName] = rcpt.FullName()
	vars[VarName] = rcpt.FullName()
	vars[VarRecipientID] = rcpt.ID
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// Render renders tpl for a recipient plus extra variables.
func (r *Renderer) Render(tpl string, rcpt domain.Recipient, extra map[string]string) string {
	return r.RenderVars(tpl, Bindings(rcpt, extra))
}

// RenderVars renders tpl against vars.
func (r *Renderer) RenderVars(tpl string, vars Vars) string {
	if !strings.Contains(tpl, "{{") && !strings.Contains(tpl, "{%") {
		return tpl
	}

	prepared := protectUnresolved(tpl, vars)
	compiled, err := r.parse(prepared)
	if err != nil {
		logger.Warn("template parse failed, using plain substitution", "component", "render", "error", err)
		return substitute(tpl, vars)
	}

	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	out, err := compiled.RenderString(bindings)
	if err != nil {
		logger.Warn("template render failed, using plain substitution", "component", "render", "error", err)
		return substitute(tpl, vars)
	}
	return out
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}

// outputTag matches a Liquid output tag and captures its root variable and
// whether a filter follows.
var outputTag = regexp.MustCompile(`\{\{-?\s*([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)\s*(\|[^}]*)?-?\}\}`)

// protectUnresolved wraps output tags whose variable is unbound in raw
// blocks so Liquid emits them verbatim. Tags with filters are left to Liquid
// since a filter like default may resolve them.
func protectUnresolved(tpl string, vars Vars) string {
	return outputTag.ReplaceAllStringFunc(tpl, func(tag string) string {
		m := outputTag.FindStringSubmatch(tag)
		if m[3] != "" {
			return tag
		}
		if _, ok := vars[m[1]]; ok && m[2] == "" {
			return tag
		}
		return "{% raw %}" + tag + "{% endraw %}"
	})
}

var simpleTag = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// substitute replaces bare {{ name }} tags and leaves everything else.
func substitute(tpl string, vars Vars) string {
	return simpleTag.ReplaceAllStringFunc(tpl, func(tag string) string {
		name := simpleTag.FindStringSubmatch(tag)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return tag
	})
}

// PlainText derives a text/plain body from rendered HTML.
func (r *Renderer) PlainText(html string) string {
	return PlainText(html)
}
