package roster

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"shiftdoc/internal"
	"shiftdoc/internal/util"
)

const (
	boardSelector = "#assigned_beds.occupancy_board"
	patientLink   = `a[href^="/patients/"]`
)

var (
	personAliases     = []string{"person in service", "person", "client", "name"}
	identifierAliases = []string{"p"}

	rePatientHref = regexp.MustCompile(`/patients/(\d+)`)
)

// ParseOccupancyBoard reads the assigned-beds table of one occupancy page.
// Spacer and room-label rows are skipped, as are rows without a patient link.
func ParseOccupancyBoard(r io.Reader) ([]internal.RosterEntry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return parseBoard(doc), nil
}

func parseBoard(doc *goquery.Document) []internal.RosterEntry {
	out := []internal.RosterEntry{}
	table := doc.Find(boardSelector).First()
	if table.Length() == 0 {
		return out
	}

	headers := []string{}
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, util.NormalizeHeader(th.Text()))
	})
	personIdx := findHeaderIndex(headers, personAliases)
	identIdx := findHeaderIndex(headers, identifierAliases)

	table.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
		class, _ := row.Attr("class")
		if strings.Contains(class, "border_bottom_thick") || strings.Contains(class, "no_border") {
			return
		}
		if row.Find(patientLink).Length() == 0 {
			return
		}

		cells := row.Find("td")
		var personCell *goquery.Selection
		if personIdx >= 0 && personIdx < cells.Length() {
			personCell = cells.Eq(personIdx)
		}

		name, patientID := "", ""
		if personCell != nil {
			link := personCell.Find(patientLink).First()
			if link.Length() > 0 {
				name = util.NormalizeSpaces(link.Text())
				href, _ := link.Attr("href")
				patientID = patientIDFromHref(href)
			} else {
				name = util.NormalizeSpaces(personCell.Text())
			}
		}
		if name == "" || patientID == "" {
			return
		}

		field := ""
		if identIdx >= 0 && identIdx < cells.Length() {
			field = util.NormalizeSpaces(cells.Eq(identIdx).Text())
		}
		out = append(out, internal.RosterEntry{PatientID: patientID, Name: name, IdentifierField: field})
	})
	return out
}

// NextPageURL resolves the board's "next" pagination link against base, or
// returns "" on the last page.
func NextPageURL(doc *goquery.Document, base *url.URL) string {
	next := doc.Find(`#pagination-nav a[rel="next"]`).First()
	if next.Length() == 0 {
		next = doc.Find("#pagination-nav .next a").First()
	}
	href, ok := next.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func patientIDFromHref(href string) string {
	m := rePatientHref.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

// findHeaderIndex prefers an exact header match. Substring matches are only
// tried for aliases longer than two letters so "p" never lands on "person".
func findHeaderIndex(headers []string, aliases []string) int {
	for i, h := range headers {
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	for i, h := range headers {
		for _, a := range aliases {
			if len(a) > 2 && strings.Contains(h, a) {
				return i
			}
		}
	}
	return -1
}
