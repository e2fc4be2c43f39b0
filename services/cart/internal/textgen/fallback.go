package textgen

import (
	"bytes"
	"context"
	"text/template"
)

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`Complete your purchase, {{.Name}}!`))
	bodyTmpl = template.Must(template.New("body").Parse(
		"Hi {{.Name}},\n\nYou have {{.Items}} waiting in your cart. Complete your purchase now!\n\nTotal: ${{.Total}}"))
)

// Fallback renders the local, non-personalized template. It never fails.
type Fallback struct{}

func (Fallback) Generate(_ context.Context, p Prompt) (Content, error) {
	data := struct {
		Name  string
		Items string
		Total string
	}{
		Name:  p.name(),
		Items: p.itemList("your selected items"),
		Total: p.CartValue.StringFixed(2),
	}

	var subject, body bytes.Buffer
	_ = subjectTmpl.Execute(&subject, data)
	_ = bodyTmpl.Execute(&body, data)
	return Content{Subject: subject.String(), Body: body.String(), Source: SourceFallback}, nil
}
