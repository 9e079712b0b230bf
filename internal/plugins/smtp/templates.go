package smtp

import (
	"fmt"
	"strings"
	"text/template"
)

// emailTemplate is a subject line and body rendered from the same variables.
type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(kind TemplateKind, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(string(kind) + ".subject").Option("missingkey=error").Parse(subject)),
		body:    template.Must(template.New(string(kind) + ".body").Option("missingkey=error").Parse(body)),
	}
}

// templates maps each kind to its text. Variables are passed as a
// map[string]string; a missing variable fails rendering.
var templates = map[TemplateKind]emailTemplate{
	KindRegistrationCode: mustTemplate(KindRegistrationCode,
		"Your Bidhouse verification code",
		`Hello {{.name}},

Your verification code is {{.code}}.

It expires in {{.minutes}} minutes. If you did not sign up for Bidhouse,
you can ignore this email.
`),
	KindResetCode: mustTemplate(KindResetCode,
		"Reset your Bidhouse password",
		`Hello,

Use the code {{.code}} to reset your password. It expires in {{.minutes}} minutes.

If you did not request a password reset, you can ignore this email; your
password has not been changed.
`),
	KindMerchantWelcome: mustTemplate(KindMerchantWelcome,
		"Your Bidhouse merchant account",
		`Hello {{.name}},

A marketplace operator created a merchant account for {{.business}} with
this email address. {{.next_step}}
`),
}

// render produces the subject and body for kind.
func render(kind TemplateKind, vars map[string]string) (string, string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown template kind %q", kind)
	}
	if vars == nil {
		vars = map[string]string{}
	}

	var subject, body strings.Builder
	if err := tmpl.subject.Execute(&subject, vars); err != nil {
		return "", "", fmt.Errorf("rendering %s subject: %w", kind, err)
	}
	if err := tmpl.body.Execute(&body, vars); err != nil {
		return "", "", fmt.Errorf("rendering %s body: %w", kind, err)
	}
	return subject.String(), body.String(), nil
}
