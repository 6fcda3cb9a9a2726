// internal/extraction/markup.go
package extraction

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// ParseTableHTML re-extracts a saved table_html artifact offline. It applies
// the same selector conventions and zip rules as the live scraper.
func ParseTableHTML(r io.Reader, sel config.SelectorConfig) (schemas.TableHeader, []schemas.TableRow, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse table markup: %w", err)
	}

	header := schemas.TableHeader{}
	for _, hs := range sel.Headers {
		cells := doc.Find(hs)
		if cells.Length() == 0 {
			continue
		}
		cells.Each(func(_ int, s *goquery.Selection) {
			header = append(header, strings.TrimSpace(s.Text()))
		})
		header = UniqueLabels(header)
		break
	}

	var rowNodes *goquery.Selection
	for _, rs := range sel.Rows {
		if found := doc.Find(rs); found.Length() > 0 {
			rowNodes = found
			break
		}
	}
	if rowNodes == nil {
		return header, []schemas.TableRow{}, nil
	}

	rows := make([]schemas.TableRow, 0, rowNodes.Length())
	rowNodes.Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		for _, cs := range sel.Cells {
			found := tr.Find(cs)
			if found.Length() == 0 {
				continue
			}
			found.Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, td.Text())
			})
			break
		}
		if row := ZipRow(header, cells); !IsBlank(row) {
			rows = append(rows, row)
		}
	})
	return header, rows, nil
}
