package invoices

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Labels.Invoice}} {{.OrderNumber}}</title></head>
<body>
<header>
<h1>{{.Labels.Invoice}}</h1>
{{if .Issuer}}<p class="issuer">{{.Issuer}}</p>{{end}}
<dl>
<dt>{{.Labels.OrderNumber}}</dt><dd>{{.OrderNumber}}</dd>
<dt>{{.Labels.Issued}}</dt><dd>{{.Issued}}</dd>
</dl>
</header>
<section class="customer">
<h2>{{.Labels.BillTo}}</h2>
<p>{{.Customer.Name}}<br>{{.Customer.Phone}}{{if .Customer.Email}}<br>{{.Customer.Email}}{{end}}{{if .Customer.Address}}<br>{{.Customer.Address}}{{end}}</p>
{{if .DeliveryAddress}}<h2>{{.Labels.DeliverTo}}</h2><p>{{.DeliveryAddress}}</p>{{end}}
</section>
<table>
<thead><tr><th>{{.Labels.Item}}</th><th>{{.Labels.SKU}}</th><th>{{.Labels.Quantity}}</th><th>{{.Labels.UnitPrice}}</th><th>{{.Labels.Amount}}</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Code}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{end}}</tbody>
<tfoot>
<tr><th colspan="4">{{.Labels.Subtotal}}</th><td>{{.Subtotal}}</td></tr>
<tr><th colspan="4">{{.Labels.Tax}}</th><td>{{.Tax}}</td></tr>
<tr><th colspan="4">{{.Labels.Shipping}}</th><td>{{.Shipping}}</td></tr>
<tr><th colspan="4">{{.Labels.Discount}}</th><td>{{.Discount}}</td></tr>
<tr class="total"><th colspan="4">{{.Labels.Total}}</th><td>{{.Total}}</td></tr>
</tfoot>
</table>
{{if .Notes}}<section class="notes"><h2>{{.Labels.Notes}}</h2><p>{{.Notes}}</p></section>{{end}}
</body>
</html>
`))

type labels struct {
	Invoice, OrderNumber, Issued, BillTo, DeliverTo string
	Item, SKU, Quantity, UnitPrice, Amount          string
	Subtotal, Tax, Shipping, Discount, Total, Notes string
}

type line struct {
	Name      string
	Code      string
	Quantity  int
	UnitPrice string
	Total     string
}

type view struct {
	Lang            string
	Labels          labels
	Issuer          string
	OrderNumber     string
	Issued          string
	Customer        customerView
	DeliveryAddress string
	Lines           []line
	Subtotal        string
	Tax             string
	Shipping        string
	Discount        string
	Total           string
	Notes           string
}

type customerView struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// Renderer turns an order snapshot into a self-contained HTML invoice.
type Renderer struct {
	issuer string
}

// NewRenderer constructs a renderer. issuer is printed in the header when non-empty.
func NewRenderer(issuer string) *Renderer {
	return &Renderer{issuer: strings.TrimSpace(issuer)}
}

// Render produces the invoice document in lang ("en" or "ja").
func (r *Renderer) Render(order domain.Order, lang string, issuedAt time.Time) ([]byte, error) {
	tag := language.Make(ResolveLanguage(lang))
	p := message.NewPrinter(tag)
	money, err := moneyFormatter(p, order.Currency)
	if err != nil {
		return nil, err
	}

	v := view{
		Lang: tag.String(),
		Labels: labels{
			Invoice:     p.Sprintf("Invoice"),
			OrderNumber: p.Sprintf("Order number"),
			Issued:      p.Sprintf("Issued"),
			BillTo:      p.Sprintf("Bill to"),
			DeliverTo:   p.Sprintf("Deliver to"),
			Item:        p.Sprintf("Item"),
			SKU:         p.Sprintf("SKU"),
			Quantity:    p.Sprintf("Quantity"),
			UnitPrice:   p.Sprintf("Unit price"),
			Amount:      p.Sprintf("Amount"),
			Subtotal:    p.Sprintf("Subtotal"),
			Tax:         p.Sprintf("Tax"),
			Shipping:    p.Sprintf("Shipping"),
			Discount:    p.Sprintf("Discount"),
			Total:       p.Sprintf("Total"),
			Notes:       p.Sprintf("Notes"),
		},
		Issuer:      r.issuer,
		OrderNumber: order.OrderNumber,
		Issued:      formatDate(tag, issuedAt),
		Customer: customerView{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Email:   deref(order.Customer.Email),
			Address: deref(order.Customer.Address),
		},
		Subtotal: money(order.Totals.Subtotal),
		Tax:      money(order.Totals.Tax),
		Shipping: money(order.Totals.Shipping),
		Discount: money(order.Totals.Discount),
		Total:    money(order.Totals.Total),
		Notes:    order.Notes,
	}
	if order.Delivery != nil {
		v.DeliveryAddress = deref(order.Delivery.Address)
	}
	for _, item := range order.Items {
		v.Lines = append(v.Lines, line{
			Name:      item.ProductName,
			Code:      item.SKUCode,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
			Total:     money(item.TotalPrice),
		})
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("invoices: render %s: %w", order.OrderNumber, err)
	}
	return buf.Bytes(), nil
}

func moneyFormatter(p *message.Printer, code string) (func(domain.Money) string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("invoices: currency %q: %w", code, err)
	}
	return func(m domain.Money) string {
		return p.Sprint(currency.Symbol(unit.Amount(m.Float())))
	}, nil
}

func formatDate(tag language.Tag, t time.Time) string {
	if base, _ := tag.Base(); base.String() == "ja" {
		return t.Format("2006年1月2日")
	}
	return t.Format("January 2, 2006")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
