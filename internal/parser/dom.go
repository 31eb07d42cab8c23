package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractTable parses the first element matching tableSelector into a 2D
// string array, one row per <tr>, cells from <td>/<th>.
func extractTable(doc *goquery.Document, tableSelector string) [][]string {
	var table [][]string

	doc.Find(tableSelector).First().Find("tr").Each(func(i int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(j int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) > 0 {
			table = append(table, cells)
		}
	})

	return table
}

// extractListItems collects the text of every <li> under listSelector.
func extractListItems(doc *goquery.Document, listSelector string) []string {
	var items []string
	doc.Find(listSelector).Find("li").Each(func(i int, sel *goquery.Selection) {
		items = append(items, strings.TrimSpace(sel.Text()))
	})
	return items
}
