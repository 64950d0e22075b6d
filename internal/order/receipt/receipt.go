// Package receipt renders paid orders as PDF documents.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	storeconfig "github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/order/domain"
)

const ContentType = "application/pdf"

type Renderer struct {
	storeName string
}

func NewRenderer(cfg storeconfig.Config) *Renderer {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "storefront"
	}
	return &Renderer{storeName: name}
}

// Render returns the PDF bytes for order. Only orders whose payment was
// confirmed have a receipt.
func (r *Renderer) Render(order domain.Order) ([]byte, error) {
	if !order.Status.Revenue() {
		return nil, domain.ErrReceiptUnavailable
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(6, r.storeName, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right, Top: 4}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Order: #"+order.ID.String(), props.Text{Top: 0}),
			text.New("Placed: "+formatDate(order.CreatedAt), props.Text{Top: 5}),
			text.New("Status: "+string(order.Status), props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Ship to", props.Text{Style: fontstyle.Bold}),
			text.New(order.ShippingAddress, props.Text{Top: 5}),
		),
	)

	m.AddRow(12,
		text.NewCol(12, money(order.Total, order.Currency)+" paid", props.Text{Size: 14, Style: fontstyle.Bold, Top: 3}),
	)

	m.AddRow(10,
		text.NewCol(6, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range order.Items {
		m.AddRow(8,
			text.NewCol(6, item.ProductName, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.UnitPrice, order.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.Subtotal(), order.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, money(order.Total, order.Currency), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	if order.PaymentIntentID != nil {
		m.AddRow(8, text.NewCol(12, "Payment reference: "+*order.PaymentIntentID, props.Text{Size: 8, Top: 2}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func money(amount decimal.Decimal, currency string) string {
	return strings.ToUpper(currency) + " " + amount.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("Jan 2, 2006")
}
