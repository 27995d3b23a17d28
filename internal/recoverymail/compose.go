package recoverymail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
)

const restorePath = "/api/v1/storefront/restore"

type stepCopy struct {
	Subject  string
	Headline string
	Body     string
	Button   string
}

var stepCopies = map[int]stepCopy{
	1: {
		Subject:  "You left something in your cart",
		Headline: "Your cart is waiting",
		Body:     "We saved the items you picked out so you can finish checking out whenever you're ready.",
		Button:   "Return to my cart",
	},
	2: {
		Subject:  "Still thinking it over?",
		Headline: "Your items are still here",
		Body:     "Your cart is still saved. Pick up right where you left off.",
		Button:   "Complete my order",
	},
	3: {
		Subject:  "Last reminder: your saved cart",
		Headline: "Last chance to check out",
		Body:     "This is our final reminder about the items in your cart.",
		Button:   "Check out now",
	},
}

type lineView struct {
	Name      string
	Quantity  int
	LineTotal string
}

type emailView struct {
	StoreName  string
	Headline   string
	Body       string
	Button     string
	RestoreURL string
	Items      []lineView
	Total      string
}

// Composed is the rendered content for one recovery email.
type Composed struct {
	Subject string
	Text    string
	HTML    string
}

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(`{{.Headline}}

{{.Body}}
{{range .Items}}
- {{.Name}} x{{.Quantity}}: {{.LineTotal}}{{end}}

Total: {{.Total}}

{{.Button}}: {{.RestoreURL}}

{{.StoreName}}
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h1>{{.Headline}}</h1>
<p>{{.Body}}</p>
<table>
{{range .Items}}<tr><td>{{.Name}}</td><td>&times;{{.Quantity}}</td><td>{{.LineTotal}}</td></tr>
{{end}}<tr><td colspan="2"><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr>
</table>
<p><a href="{{.RestoreURL}}">{{.Button}}</a></p>
<p>{{.StoreName}}</p>
</body></html>
`))

// RestoreURL builds the signed restore link for record.
func RestoreURL(publicBaseURL string, record models.CartRecord) string {
	q := url.Values{}
	q.Set("token", record.CartToken)
	q.Set("key", record.RestoreKey)
	return strings.TrimRight(publicBaseURL, "/") + restorePath + "?" + q.Encode()
}

// Compose renders the email for step.
func Compose(storeName, publicBaseURL string, record models.CartRecord, step int) (Composed, error) {
	content, ok := stepCopies[step]
	if !ok {
		return Composed{}, fmt.Errorf("unknown recovery step %d", step)
	}
	view := emailView{
		StoreName:  storeName,
		Headline:   content.Headline,
		Body:       content.Body,
		Button:     content.Button,
		RestoreURL: RestoreURL(publicBaseURL, record),
		Total:      formatMoney(record.Currency, record.Total),
	}
	for _, item := range record.CartItems {
		view.Items = append(view.Items, lineView{
			Name:      item.Name,
			Quantity:  item.Quantity,
			LineTotal: formatMoney(record.Currency, item.LineTotal()),
		})
	}

	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, view); err != nil {
		return Composed{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return Composed{}, fmt.Errorf("render html body: %w", err)
	}
	return Composed{Subject: content.Subject, Text: text.String(), HTML: html.String()}, nil
}

func formatMoney(currency enums.Currency, amount decimal.Decimal) string {
	return currency.Symbol() + amount.StringFixed(2)
}
