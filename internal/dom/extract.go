// Package dom holds the pure extraction functions that turn a snapshot of a
// portal page into structured records. Nothing here talks to a browser.
package dom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// ErrTableNotFound is returned when a positional table is missing from a snapshot.
var ErrTableNotFound = errors.New("table not found")

// lineItemCells is the number of positional cells read from a line-item data row.
const lineItemCells = 11

// Parse loads an HTML snapshot into a queryable document.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return doc, nil
}

// Text returns the trimmed text content of a selection.
func Text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}

// cellText returns the trimmed text of the i-th cell, or "" when the row is shorter.
func cellText(cells *goquery.Selection, i int) string {
	if i >= cells.Length() {
		return ""
	}
	return Text(cells.Eq(i))
}

// LabelValue finds the first header cell whose text contains label and
// returns the text of the element right after it. Absent labels yield "".
func LabelValue(doc *goquery.Document, headerSelector, label string) string {
	var value string
	doc.Find(headerSelector).EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(Text(th), label) {
			return true
		}
		if next := th.Next(); next.Length() > 0 {
			value = Text(next)
		}
		return false
	})
	return value
}

// Table returns the index-th element matched by tablesSelector.
func Table(doc *goquery.Document, tablesSelector string, index int) (*goquery.Selection, error) {
	tables := doc.Find(tablesSelector)
	if index < 0 || index >= tables.Length() {
		return nil, fmt.Errorf("%w: %s[%d] (page has %d)", ErrTableNotFound, tablesSelector, index, tables.Length())
	}
	return tables.Eq(index), nil
}

// ListingRows parses the document rows of a listing table. The first
// headerRows matches are skipped; cells 1..6 map onto the summary fields in
// order. controlSelector locates the row's selection control, which is used
// to build a page-unique handle selector when the control has a value or id.
func ListingRows(doc *goquery.Document, rowsSelector, controlSelector string, headerRows int) []schemas.ListingRow {
	rows := []schemas.ListingRow{}
	doc.Find(rowsSelector).Each(func(domIndex int, tr *goquery.Selection) {
		if domIndex < headerRows {
			return
		}
		cells := tr.Find("td")
		row := schemas.ListingRow{
			Summary: schemas.OrderSummary{
				ExternalID:       cellText(cells, 1),
				Size:             cellText(cells, 2),
				ReceptionDate:    cellText(cells, 3),
				DeliveryLocation: cellText(cells, 4),
				Issuer:           cellText(cells, 5),
				Status:           cellText(cells, 6),
			},
			Handle: schemas.RowHandle{
				Index:        len(rows),
				DOMIndex:     domIndex,
				RowsSelector: rowsSelector,
			},
		}
		if cells.Length() > 0 {
			row.Handle.ControlSelector = uniqueControlSelector(cells.First().Find(controlSelector).First(), controlSelector)
		}
		rows = append(rows, row)
	})
	return rows
}

func uniqueControlSelector(control *goquery.Selection, base string) string {
	if control.Length() == 0 {
		return ""
	}
	if id, ok := control.Attr("id"); ok && id != "" {
		return fmt.Sprintf("%s[id=%q]", base, id)
	}
	if value, ok := control.Attr("value"); ok && value != "" {
		return fmt.Sprintf("%s[value=%q]", base, value)
	}
	return ""
}

// LineItems parses a product table laid out as pairs of rows: a data row
// followed by a description row. Header rows (containing th) and rows
// without cells are dropped first; the even-indexed survivors are the data
// rows. A data row's observation is the first cell of its next sibling row,
// or "" when it has none.
func LineItems(table *goquery.Selection) []schemas.LineItem {
	var bodyRows []*goquery.Selection
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("td").Length() > 0 && tr.Find("th").Length() == 0 {
			bodyRows = append(bodyRows, tr)
		}
	})

	items := []schemas.LineItem{}
	for i := 0; i < len(bodyRows); i += 2 {
		tr := bodyRows[i]
		cells := tr.Find("td")

		var vals [lineItemCells]string
		for c := range vals {
			vals[c] = cellText(cells, c)
		}

		observation := ""
		if sibling := tr.Next(); sibling.Length() > 0 {
			observation = Text(sibling.Find("td").First())
		}

		items = append(items, schemas.LineItem{
			LineNumber:      vals[0],
			UPCCode:         vals[1],
			ItemCode:        vals[2],
			ProviderCode:    vals[3],
			Size:            vals[4],
			Description:     vals[5],
			Quantity:        vals[6],
			UnitPrice:       vals[7],
			UnitsPerPackage: vals[8],
			PackageCount:    vals[9],
			TotalPrice:      vals[10],
			Observation:     observation,
		})
	}
	return items
}

// FirstRowCell returns the text of cell index of the table's first body row.
// Header and data cells both count. A missing row or cell yields "".
func FirstRowCell(table *goquery.Selection, index int) string {
	row := table.Find("tbody tr").First()
	if row.Length() == 0 {
		return ""
	}
	return cellText(row.Children().Filter("td, th"), index)
}

// KeyValueRows maps cell 0 to cell 1 for every body row with at least two
// cells. Later rows overwrite earlier ones that share a key.
func KeyValueRows(table *goquery.Selection) map[string]string {
	out := make(map[string]string)
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		out[Text(cells.Eq(0))] = Text(cells.Eq(1))
	})
	return out
}
