package tracking

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// URLBuilder produces the tracked URLs the injector embeds.
type URLBuilder interface {
	OpenURL(messageID string) string
	ClickURL(messageID, originalURL string) string
	UnsubscribeURL(messageID string) string
}

// Injector applies the unsubscribe footer, click rewriting and the open
// pixel to rendered HTML. Every method is a pure function of its inputs.
type Injector struct {
	urls            URLBuilder
	physicalAddress string
}

// NewInjector creates an injector. physicalAddress may be empty.
func NewInjector(urls URLBuilder, physicalAddress string) *Injector {
	return &Injector{urls: urls, physicalAddress: strings.TrimSpace(physicalAddress)}
}

var (
	unsubscribePlaceholder = regexp.MustCompile(`\{\{\s*unsubscribe_url\s*\}\}`)
	anchorHref             = regexp.MustCompile(`(?is)(<a\b[^>]*?\shref\s*=\s*)("[^"]*"|'[^']*'|[^\s>]+)`)
)

// Inject runs footer, link rewrite and pixel in that order. The pixel goes
// last so its <img> is never considered for click tracking.
func (in *Injector) Inject(body, messageID string) string {
	body = in.AddFooter(body, messageID)
	body = in.RewriteLinks(body, messageID)
	return in.AddPixel(body, messageID)
}

// HasUnsubscribeMarker reports whether the author already placed an
// unsubscribe link or placeholder in the HTML.
func HasUnsubscribeMarker(body string) bool {
	return unsubscribePlaceholder.MatchString(body) || strings.Contains(body, UnsubscribePath)
}

// AddFooter appends the unsubscribe footer unless a marker is present.
func (in *Injector) AddFooter(body, messageID string) string {
	if HasUnsubscribeMarker(body) {
		return body
	}

	var b strings.Builder
	b.WriteString(`<div style="margin-top:24px;padding-top:12px;border-top:1px solid #e5e5e5;font-family:Arial,sans-serif;font-size:12px;color:#888888;text-align:center;">`)
	if in.physicalAddress != "" {
		fmt.Fprintf(&b, `<p style="margin:0 0 6px 0;">%s</p>`, html.EscapeString(in.physicalAddress))
	}
	fmt.Fprintf(&b, `<p style="margin:0;"><a href="%s" style="color:#888888;">Unsubscribe</a></p>`,
		html.EscapeString(in.urls.UnsubscribeURL(messageID)))
	b.WriteString(`</div>`)

	return insertBeforeBodyClose(body, b.String())
}

// RewriteLinks points every anchor at the click redirect. mailto:, tel: and
// unsubscribe links are left alone, as are empty hrefs and hrefs that
// already point at a tracking endpoint.
func (in *Injector) RewriteLinks(body, messageID string) string {
	return anchorHref.ReplaceAllStringFunc(body, func(match string) string {
		parts := anchorHref.FindStringSubmatch(match)
		prefix, raw := parts[1], parts[2]

		quote := ""
		value := raw
		if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') {
			quote = raw[:1]
			value = raw[1 : len(raw)-1]
		}

		original := strings.TrimSpace(html.UnescapeString(value))
		if !shouldTrack(original) {
			return match
		}

		if quote == "" {
			quote = `"`
		}
		tracked := html.EscapeString(in.urls.ClickURL(messageID, original))
		return prefix + quote + tracked + quote
	})
}

// AddPixel appends a hidden 1x1 open-tracking image.
func (in *Injector) AddPixel(body, messageID string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px;border:0;" />`,
		html.EscapeString(in.urls.OpenURL(messageID)))
	return insertBeforeBodyClose(body, pixel)
}

func shouldTrack(href string) bool {
	if href == "" {
		return false
	}
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(lower, "mailto:"), strings.HasPrefix(lower, "tel:"):
		return false
	case unsubscribePlaceholder.MatchString(href), strings.Contains(href, UnsubscribePath):
		return false
	case strings.Contains(href, ClickPath), strings.Contains(href, OpenPath):
		return false
	}
	return true
}

// insertBeforeBodyClose places fragment before the last </body>, matched
// case-insensitively, or at the end when there is none.
func insertBeforeBodyClose(body, fragment string) string {
	const closeTag = "</body>"
	for i := len(body) - len(closeTag); i >= 0; i-- {
		if strings.EqualFold(body[i:i+len(closeTag)], closeTag) {
			return body[:i] + fragment + body[i:]
		}
	}
	return body + fragment
}
