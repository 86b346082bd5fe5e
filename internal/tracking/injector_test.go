package tracking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeURLs produces readable URLs so assertions can match them literally.
type fakeURLs struct{}

func (fakeURLs) OpenURL(id string) string { return "https://t.test/track/open/" + id }
func (fakeURLs) ClickURL(id, target string) string {
	return "https://t.test/track/click/" + id + "?u=" + target
}
func (fakeURLs) UnsubscribeURL(id string) string { return "https://t.test/track/unsubscribe/" + id }

func TestAddFooterBeforeBodyClose(t *testing.T) {
	in := NewInjector(fakeURLs{}, "1 Main St & Co")
	out := in.AddFooter("<html><BODY><p>Hi</p></BODY></html>", "m1")

	assert.True(t, strings.HasSuffix(out, "</BODY></html>"))
	assert.Contains(t, out, "1 Main St &amp; Co")
	assert.Contains(t, out, `href="https://t.test/track/unsubscribe/m1"`)
	assert.Less(t, strings.Index(out, "Unsubscribe"), strings.Index(out, "</BODY>"))
}

func TestAddFooterAppendsWithoutBody(t *testing.T) {
	in := NewInjector(fakeURLs{}, "")
	out := in.AddFooter("<p>Hi</p>", "m1")

	assert.True(t, strings.HasPrefix(out, "<p>Hi</p><div"))
	assert.NotContains(t, out, "<p style=\"margin:0 0 6px 0;\">")
}

func TestAddFooterSkipsWhenMarkerPresent(t *testing.T) {
	in := NewInjector(fakeURLs{}, "addr")
	tests := []string{
		`<body><a href="{{unsubscribe_url}}">Leave</a></body>`,
		`<body><a href="{{ unsubscribe_url }}">Leave</a></body>`,
		`<body><a href="https://t.test/track/unsubscribe/abc">Leave</a></body>`,
	}
	for _, body := range tests {
		assert.Equal(t, body, in.AddFooter(body, "m1"))
	}
}

func TestAddFooterIsGuardedAgainstDoubleApplication(t *testing.T) {
	in := NewInjector(fakeURLs{}, "addr")
	once := in.AddFooter("<body>x</body>", "m1")
	twice := in.AddFooter(once, "m1")
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "Unsubscribe"))
}

func TestRewriteLinks(t *testing.T) {
	in := NewInjector(fakeURLs{}, "")
	body := `<a href="https://example.com/a">A</a>` +
		`<a class="btn" href='http://example.com/b?x=1&amp;y=2'>B</a>` +
		`<a href=https://example.com/c>C</a>` +
		`<a href="mailto:hi@example.com">M</a>` +
		`<a href="TEL:+15551234">T</a>` +
		`<a href="https://t.test/track/unsubscribe/z">U</a>` +
		`<a href="{{unsubscribe_url}}">U2</a>` +
		`<a href="">E</a>`

	out := in.RewriteLinks(body, "m1")

	assert.Contains(t, out, `href="https://t.test/track/click/m1?u=https://example.com/a"`)
	assert.Contains(t, out, `class="btn" href='https://t.test/track/click/m1?u=http://example.com/b?x=1&amp;y=2'`)
	assert.Contains(t, out, `href="https://t.test/track/click/m1?u=https://example.com/c"`)
	assert.Contains(t, out, `href="mailto:hi@example.com"`)
	assert.Contains(t, out, `href="TEL:+15551234"`)
	assert.Contains(t, out, `href="https://t.test/track/unsubscribe/z"`)
	assert.Contains(t, out, `href="{{unsubscribe_url}}"`)
	assert.Contains(t, out, `href=""`)
	assert.Equal(t, 3, strings.Count(out, "/track/click/"))
}

func TestRewriteLinksIgnoresDataHref(t *testing.T) {
	in := NewInjector(fakeURLs{}, "")

	out := in.RewriteLinks(`<a data-href="https://example.com/menu" href="https://example.com/a">A</a>`, "m1")
	assert.Equal(t, `<a data-href="https://example.com/menu" href="https://t.test/track/click/m1?u=https://example.com/a">A</a>`, out)

	onlyData := `<a data-href="https://example.com/menu">Menu</a>`
	assert.Equal(t, onlyData, in.RewriteLinks(onlyData, "m1"))
}

func TestRewriteLinksLeavesTrackedLinks(t *testing.T) {
	in := NewInjector(fakeURLs{}, "")
	once := in.RewriteLinks(`<a href="https://example.com">x</a>`, "m1")
	assert.Equal(t, once, in.RewriteLinks(once, "m1"))
}

func TestInjectOrder(t *testing.T) {
	in := NewInjector(fakeURLs{}, "addr")
	out := in.Inject(`<html><body><a href="https://example.com">Go</a></body></html>`, "m1")

	assert.Equal(t, 1, strings.Count(out, "/track/click/"))
	assert.Equal(t, 1, strings.Count(out, "/track/unsubscribe/"))
	assert.Equal(t, 1, strings.Count(out, "/track/open/"))
	assert.Equal(t, 1, strings.Count(out, "<img"))

	footer := strings.Index(out, "Unsubscribe")
	pixel := strings.Index(out, "<img")
	closing := strings.Index(out, "</body>")
	assert.Less(t, footer, pixel)
	assert.Less(t, pixel, closing)
}

func TestAddPixelUsesLastBodyClose(t *testing.T) {
	in := NewInjector(fakeURLs{}, "")
	out := in.AddPixel("<body>a</body><!-- </body> -->tail</body>", "m1")
	assert.True(t, strings.HasSuffix(out, `<img src="https://t.test/track/open/m1" width="1" height="1" alt="" style="display:none;width:1px;height:1px;border:0;" /></body>`))
}
