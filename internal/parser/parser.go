// Package parser converts raw catalog HTML into structured records.
// All functions are pure: no I/O, no shared mutable state.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMissingTitle is returned when a detail page lacks the one required field.
var ErrMissingTitle = errors.New("page has no title")

// identifierPattern matches the trailing numeric segment of a detail-page
// URL, e.g. ".../book_1000/index.html" -> "1000".
var identifierPattern = regexp.MustCompile(`_([0-9]+)(?:/index\.html)?$`)

// leadingNonNumeric matches the currency prefix stripped by NormalizePrice.
var leadingNonNumeric = regexp.MustCompile(`^[^0-9.]+`)

// ListingPage is the parse result of one paginated listing page.
type ListingPage struct {
	Items    []ListingItem
	NextPage string
}

// ListingItem is one product card on a listing page.
type ListingItem struct {
	URL   string
	Title string
	Price string
}

// DetailPage is the parse result of one product detail page. Category and
// Rating come from the breadcrumb and the star-rating class; both are zero
// when the page omits them.
type DetailPage struct {
	ID              string
	Title           string
	PriceInclTax    string
	PriceExclTax    string
	Tax             string
	Availability    string
	Description     string
	UPC             string
	NumberOfReviews *int
	ImageURL        string
	Category        string
	Rating          int
}

var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// NormalizePrice strips any leading non-digit, non-decimal-point run
// (currency symbols, whitespace) from a price string.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	return leadingNonNumeric.ReplaceAllString(price, "")
}

// ExtractIdentifier derives the stable record identifier from a detail-page
// URL. It returns "" when the URL has no trailing numeric segment; such
// records are unpersistable.
func ExtractIdentifier(pageURL string) string {
	m := identifierPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseListingPage extracts product cards and the pagination link from a
// listing page. Item and next-page URLs are resolved against baseURL. An
// empty NextPage means the end of pagination; a page with zero items is not
// an error (callers log it as a warning).
func ParseListingPage(html []byte, baseURL string) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ListingPage{}, fmt.Errorf("parse listing html: %w", err)
	}

	var page ListingPage
	doc.Find("article.product_pod").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("h3 a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		title, ok := link.Attr("title")
		if !ok || title == "" {
			title = strings.TrimSpace(link.Text())
		}
		page.Items = append(page.Items, ListingItem{
			URL:   resolveURL(baseURL, href),
			Title: title,
			Price: NormalizePrice(card.Find(".product_price .price_color").First().Text()),
		})
	})

	if href, ok := doc.Find("ul.pager li.next a").First().Attr("href"); ok && href != "" {
		page.NextPage = resolveURL(baseURL, href)
	}
	return page, nil
}

// ParseDetailPage extracts a structured record from a product detail page.
// Only a missing title fails the parse; every other missing field yields its
// zero value.
func ParseDetailPage(html []byte, pageURL string) (DetailPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return DetailPage{}, fmt.Errorf("parse detail html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("div.product_main h1").First().Text())
	if title == "" {
		return DetailPage{}, fmt.Errorf("%s: %w", pageURL, ErrMissingTitle)
	}

	detail := DetailPage{
		ID:    ExtractIdentifier(pageURL),
		Title: title,
	}

	doc.Find("table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		val := strings.TrimSpace(row.Find("td").First().Text())
		if key == "" || val == "" {
			return
		}
		switch key {
		case "UPC":
			detail.UPC = val
		case "Price (excl. tax)":
			detail.PriceExclTax = NormalizePrice(val)
		case "Price (incl. tax)":
			detail.PriceInclTax = NormalizePrice(val)
		case "Tax":
			detail.Tax = NormalizePrice(val)
		case "Number of reviews":
			if n, err := strconv.Atoi(val); err == nil {
				detail.NumberOfReviews = &n
			}
		}
	})

	// Availability concatenates every text fragment of the element with
	// whitespace collapsed, e.g. "In stock (22 available)".
	if avail := doc.Find("p.instock.availability").First(); avail.Length() > 0 {
		detail.Availability = strings.Join(strings.Fields(avail.Text()), " ")
	}

	// The description is the paragraph immediately following the
	// #product_description heading marker.
	if heading := doc.Find("#product_description").First(); heading.Length() > 0 {
		detail.Description = strings.TrimSpace(heading.NextAllFiltered("p").First().Text())
	}

	if src, ok := doc.Find("#product_gallery img").First().Attr("src"); ok && src != "" {
		detail.ImageURL = resolveURL(pageURL, src)
	}

	// The category is the third breadcrumb segment (Home > Books > <category>).
	crumbs := doc.Find("ul.breadcrumb li")
	if crumbs.Length() >= 3 {
		detail.Category = strings.TrimSpace(crumbs.Eq(2).Text())
	}

	if stars := doc.Find("p.star-rating").First(); stars.Length() > 0 {
		if classes, ok := stars.Attr("class"); ok {
			for _, c := range strings.Fields(classes) {
				if n, ok := ratingWords[c]; ok {
					detail.Rating = n
					break
				}
			}
		}
	}

	return detail, nil
}

// resolveURL resolves href against base, returning href unchanged when
// either side fails to parse.
func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
