package extract

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rpattn/driftetl/internal/domain"
)

const dataTypeHTMLRow = "html_table_row"

var (
	rowPattern        = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	headerCellPattern = regexp.MustCompile(`(?is)<th[^>]*>(.*?)</th>`)
	dataCellPattern   = regexp.MustCompile(`(?is)<td[^>]*>(.*?)</td>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

// parseHTML extracts table rows and ld+json payloads with the html tokenizer
// tree. When the tree yields nothing the regex table scanner is used instead.
func parseHTML(content string) ([]domain.Record, error) {
	records, err := parseHTMLTree(content)
	if err == nil && len(records) > 0 {
		return records, nil
	}
	scanned := scanHTMLTables(content)
	if len(scanned) == 0 && err != nil {
		return nil, fmt.Errorf("%w: html: %v", domain.ErrParseDegraded, err)
	}
	return append(scanned, ldScriptRecords(content, "json_ld_from_html", false)...), nil
}

func parseHTMLTree(content string) ([]domain.Record, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	var records []domain.Record
	walk(root, func(node *html.Node) bool {
		if node.Type != html.ElementNode {
			return true
		}
		switch node.DataAtom {
		case atom.Table:
			records = append(records, tableRows(node)...)
			return false
		case atom.Script:
			if strings.EqualFold(attr(node, "type"), "application/ld+json") {
				if fields, err := decodeObject(strings.TrimSpace(nodeText(node))); err == nil {
					records = append(records, objectRecord("json_ld_from_html", fields, StrategyDirect, false))
				}
			}
			return false
		}
		return true
	})
	return records, nil
}

// tableRows maps every row after the first onto the first row's cells.
func tableRows(table *html.Node) []domain.Record {
	var rows [][]string
	walk(table, func(node *html.Node) bool {
		if node != table && node.DataAtom == atom.Table {
			return false
		}
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			var cells []string
			for cell := node.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type == html.ElementNode && (cell.DataAtom == atom.Td || cell.DataAtom == atom.Th) {
					cells = append(cells, collapseSpace(nodeText(cell)))
				}
			}
			rows = append(rows, cells)
			return false
		}
		return true
	})
	if len(rows) < 2 {
		return nil
	}

	header := headerNames(rows[0])
	var records []domain.Record
	for _, cells := range rows[1:] {
		if len(cells) != len(header) {
			continue
		}
		records = append(records, rowRecord(dataTypeHTMLRow, header, cells))
	}
	return records
}

// scanHTMLTables is the regex fallback for markup the tree parser could not
// make sense of.
func scanHTMLTables(content string) []domain.Record {
	rows := rowPattern.FindAllStringSubmatch(content, -1)
	if len(rows) < 2 {
		return nil
	}

	headerCells := cellTexts(headerCellPattern, rows[0][1])
	if len(headerCells) == 0 {
		headerCells = cellTexts(dataCellPattern, rows[0][1])
	}
	header := headerNames(headerCells)

	var records []domain.Record
	for _, row := range rows[1:] {
		cells := cellTexts(dataCellPattern, row[1])
		if len(cells) != len(header) || len(cells) == 0 {
			continue
		}
		records = append(records, rowRecord(dataTypeHTMLRow, header, cells))
	}
	return records
}

func cellTexts(pattern *regexp.Regexp, row string) []string {
	var cells []string
	for _, match := range pattern.FindAllStringSubmatch(row, -1) {
		text := tagPattern.ReplaceAllString(match[1], "")
		cells = append(cells, collapseSpace(html.UnescapeString(text)))
	}
	return cells
}

// walk visits nodes depth first without recursion. fn returns false to skip
// a node's children.
func walk(root *html.Node, fn func(*html.Node) bool) {
	stack := []*html.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(node) {
			continue
		}
		for child := node.LastChild; child != nil; child = child.PrevSibling {
			stack = append(stack, child)
		}
	}
}

func nodeText(node *html.Node) string {
	var b strings.Builder
	walk(node, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
