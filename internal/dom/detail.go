package dom

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// DetailLabels holds the header text that introduces each scalar field of a
// detail view. Matching is by substring.
type DetailLabels struct {
	Issuer              string
	Receptor            string
	PurchaseOrderNumber string
	GenerationDate      string
	ShipmentDate        string
	CancellationDate    string
	PaymentConditions   string
	DeliveryLocation    string
	SalesDepartment     string
	OrderType           string
	Promotion           string
	ProviderNumber      string
	IssuerInfo          string
	VendorInfo          string
}

// DetailLayout locates every part of a detail view.
type DetailLayout struct {
	LabelSelector       string
	TablesSelector      string
	ObservationsTable   int
	LineItemsTable      int
	AdditionalInfoTable int
	Labels              DetailLabels
}

// OrderDetail extracts a full detail record from a detail view snapshot.
// The line item and additional info tables are required; a missing
// observations table reads as "".
func OrderDetail(doc *goquery.Document, layout DetailLayout) (*schemas.OrderDetail, error) {
	label := func(l string) string {
		if l == "" {
			return ""
		}
		return LabelValue(doc, layout.LabelSelector, l)
	}

	lineTable, err := Table(doc, layout.TablesSelector, layout.LineItemsTable)
	if err != nil {
		return nil, fmt.Errorf("line items: %w", err)
	}
	infoTable, err := Table(doc, layout.TablesSelector, layout.AdditionalInfoTable)
	if err != nil {
		return nil, fmt.Errorf("additional info: %w", err)
	}

	observations := ""
	if obsTable, err := Table(doc, layout.TablesSelector, layout.ObservationsTable); err == nil {
		observations = FirstRowCell(obsTable, 1)
	}

	l := layout.Labels
	return &schemas.OrderDetail{
		Issuer:              label(l.Issuer),
		Receptor:            label(l.Receptor),
		PurchaseOrderNumber: label(l.PurchaseOrderNumber),
		GenerationDate:      label(l.GenerationDate),
		ShipmentDate:        label(l.ShipmentDate),
		CancellationDate:    label(l.CancellationDate),
		PaymentConditions:   label(l.PaymentConditions),
		DeliveryLocation:    label(l.DeliveryLocation),
		SalesDepartment:     label(l.SalesDepartment),
		OrderType:           label(l.OrderType),
		Promotion:           label(l.Promotion),
		ProviderNumber:      label(l.ProviderNumber),
		IssuerInfo:          label(l.IssuerInfo),
		VendorInfo:          label(l.VendorInfo),
		Observations:        observations,
		LineItems:           LineItems(lineTable),
		AdditionalInfo:      KeyValueRows(infoTable),
	}, nil
}
