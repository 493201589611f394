package portal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

var judgmentDateRe = regexp.MustCompile(`\d{2}-\d{2}-\d{4}`)

// ParseResultRows extracts judgment rows from a result-page HTML fragment.
// The portal renders an 8-column table (serial number, diary number, case
// number, petitioner/respondent, advocate, bench, judgment by, judgment
// links); older renderings collapse "judgment by" into the bench column, so
// 7-column rows are tolerated.
func ParseResultRows(html string) ([]harvest.ResultRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results html: %w", err)
	}

	table := findResultsTable(doc)
	if table == nil {
		return nil, nil
	}

	var rows []harvest.ResultRow
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 7 {
			return // header or malformed row
		}
		row := harvest.ResultRow{
			SerialNumber:         cellText(cells, 0),
			DiaryNumber:          cellText(cells, 1),
			CaseNumber:           cellText(cells, 2),
			PetitionerRespondent: cellText(cells, 3),
			Advocate:             cellText(cells, 4),
			Bench:                cellText(cells, 5),
		}
		var judgmentCell *goquery.Selection
		if cells.Length() >= 8 {
			row.JudgmentBy = cellText(cells, 6)
			judgmentCell = cells.Eq(7)
		} else {
			row.JudgmentBy = row.Bench
			judgmentCell = cells.Eq(6)
		}

		judgmentCell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			href = strings.TrimSpace(href)
			text := strings.TrimSpace(a.Text())
			if !isDocumentLink(href, text) {
				return
			}
			row.DocumentLinks = append(row.DocumentLinks, href)
			if row.JudgmentDate == "" {
				if m := judgmentDateRe.FindString(text); m != "" {
					row.JudgmentDate = m
				}
			}
		})
		if row.JudgmentDate == "" {
			if m := judgmentDateRe.FindString(judgmentCell.Text()); m != "" {
				row.JudgmentDate = m
			}
		}

		if row.DiaryNumber == "" && row.CaseNumber == "" {
			return
		}
		rows = append(rows, row)
	})
	return rows, nil
}

// findResultsTable locates the result table, trying the containers the
// portal has been seen to use before falling back to the first table.
func findResultsTable(doc *goquery.Document) *goquery.Selection {
	for _, container := range []string{"#cnrresults table", "div.distTableContent table", "table"} {
		if sel := doc.Find(container).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

// isDocumentLink filters the anchors in the judgment cell down to actual
// document links, dropping placeholders and javascript handles.
func isDocumentLink(href, text string) bool {
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return false
	}
	if text == "" {
		return false
	}
	lower := strings.ToLower(href)
	return strings.Contains(lower, ".pdf") || strings.Contains(lower, "judgment") || strings.Contains(lower, "api.")
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}
