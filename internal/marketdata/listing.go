package marketdata

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default listing endpoints.
const (
	TWSEListURL     = "https://openapi.twse.com.tw/v1/opendata/t187ap03_L"
	TPExListURL     = "https://www.tpex.org.tw/openapi/v1/company_basic_info"
	TPExListHTMLURL = "https://isin.twse.com.tw/isin/C_public.jsp?strMode=4"
)

// Listing fetches the universe of listed company codes.
type Listing struct {
	client   *Client
	TWSEURL  string
	TPExURL  string
	TPExHTML string
}

// NewListing returns a Listing using the public endpoints.
func NewListing(c *Client) *Listing {
	return &Listing{client: c, TWSEURL: TWSEListURL, TPExURL: TPExListURL, TPExHTML: TPExListHTMLURL}
}

// FetchAll returns the sorted, de-duplicated TWSE (".TW") and TPEx (".TWO")
// symbols. A failing exchange is logged and skipped; ErrNoData is returned
// only when neither produced a code.
func (l *Listing) FetchAll(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}

	twse, err := l.fetchJSONCodes(ctx, l.TWSEURL, "公司代號")
	if err != nil {
		log.Printf("[listing] TWSE codes failed: %v", err)
	}
	for _, c := range twse {
		seen[c+SuffixTWSE] = true
	}

	tpex, err := l.fetchJSONCodes(ctx, l.TPExURL, "SecuritiesCompanyCode", "code")
	if err != nil || len(tpex) == 0 {
		log.Printf("[listing] TPEx JSON codes unavailable (%v), trying HTML list", err)
		tpex, err = l.fetchHTMLCodes(ctx, l.TPExHTML)
		if err != nil {
			log.Printf("[listing] TPEx HTML codes failed: %v", err)
		}
	}
	for _, c := range tpex {
		seen[c+SuffixTPEx] = true
	}

	if len(seen) == 0 {
		return nil, ErrNoData
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// fetchJSONCodes reads an array of objects and returns the numeric values
// of the first present field among fields.
func (l *Listing) fetchJSONCodes(ctx context.Context, url string, fields ...string) ([]string, error) {
	var rows []map[string]any
	if err := l.client.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	var out []string
	for _, row := range rows {
		for _, f := range fields {
			v, ok := row[f]
			if !ok || v == nil {
				continue
			}
			c := strings.TrimSpace(fmt.Sprint(v))
			if isDigits(c) {
				out = append(out, c)
			}
			break
		}
	}
	return out, nil
}

// fetchHTMLCodes scrapes the ISIN listing table. The first cell of each
// security row holds the code and name separated by a full-width space;
// only four-digit codes are ordinary shares.
func (l *Listing) fetchHTMLCodes(ctx context.Context, url string) ([]string, error) {
	raw, err := l.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("listing: parse html: %w", err)
	}
	var out []string
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cell := strings.TrimSpace(row.Find("td").First().Text())
		code := leadingDigits.FindString(cell)
		if len(code) == 4 {
			out = append(out, code)
		}
	})
	return out, nil
}
