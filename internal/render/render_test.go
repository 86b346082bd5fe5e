package render

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/campaign-engine/internal/domain"
)

func TestRenderRecipientVariables(t *testing.T) {
	r := New()
	alice := domain.Recipient{ID: "r1", Email: "alice@x.com", FirstName: "Alice", LastName: "Smith"}

	assert.Equal(t, "Hi Alice", r.Render("Hi {{first_name}}", alice, nil))
	assert.Equal(t, "Hi Alice Smith <alice@x.com>", r.Render("Hi {{ full_name }} <{{email}}>", alice, nil))
}

func TestRenderExtraVarsOverrideFields(t *testing.T) {
	r := New()
	rcpt := domain.Recipient{FirstName: "Bob", Fields: map[string]string{"plan": "basic", "first_name": "ignored"}}
	extra := map[string]string{"plan": "pro", VarUnsubscribeURL: "https://t/u"}

	out := r.Render("{{first_name}} {{plan}} {{unsubscribe_url}}", rcpt, extra)
	assert.Equal(t, "Bob pro https://t/u", out)
}

func TestRenderLeavesUnresolvedLiteral(t *testing.T) {
	r := New()
	rcpt := domain.Recipient{FirstName: "Bob"}

	out := r.Render("Hi {{first_name}}, your code is {{ promo_code }} and {{company.name}}", rcpt, nil)
	assert.Equal(t, "Hi Bob, your code is {{ promo_code }} and {{company.name}}", out)
}

func TestRenderDefaultFilter(t *testing.T) {
	r := New()
	out := r.Render(`Hi {{ first_name | default: "Friend" }}`, domain.Recipient{}, nil)
	assert.Equal(t, "Hi Friend", out)
}

func TestRenderTitlecaseFilter(t *testing.T) {
	r := New()
	tests := []struct {
		first string
		want  string
	}{
		{"alice", "Hi Alice"},
		{"mary  JANE", "Hi Mary Jane"},
		{"élodie", "Hi Élodie"},
		{"ÖZGÜR", "Hi Özgür"},
	}
	for _, tt := range tests {
		t.Run(tt.first, func(t *testing.T) {
			got := r.Render("Hi {{ first_name | titlecase }}", domain.Recipient{FirstName: tt.first}, nil)
			assert.True(t, utf8.ValidString(got), "invalid UTF-8: %q", got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderLiquidControlFlow(t *testing.T) {
	r := New()
	tpl := `{% if plan == "pro" %}Pro{% else %}Free{% endif %} {{first_name}}`
	out := r.Render(tpl, domain.Recipient{FirstName: "Ann", Fields: map[string]string{"plan": "pro"}}, nil)
	assert.Equal(t, "Pro Ann", out)
}

func TestRenderFallsBackOnParseError(t *testing.T) {
	r := New()
	out := r.Render("{% if %}broken {{first_name}} {{missing}}", domain.Recipient{FirstName: "Ann"}, nil)
	assert.Equal(t, "{% if %}broken Ann {{missing}}", out)
}

func TestRenderPlainTextPassthrough(t *testing.T) {
	r := New()
	assert.Equal(t, "no placeholders", r.Render("no placeholders", domain.Recipient{}, nil))
}

func TestPlainText(t *testing.T) {
	body := `<html><head><title>T</title><style>p{color:red}</style></head>
<body><h1>Hello   Alice</h1><p>Visit <a href="https://x">our site</a> &amp; save.</p><script>alert(1)</script><br/>Bye</body></html>`

	assert.Equal(t, "Hello Alice\n\nVisit our site & save.\n\nBye", PlainText(body))
}
