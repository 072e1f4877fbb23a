// Package usnews extracts ranked high schools from archived US News "best high
// schools" pages.
package usnews

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/crawler"
)

// NotAvailable is stored for known fields the page did not provide.
const NotAvailable = "N/A"

// KnownFields are always present on an extracted record.
var KnownFields = []string{
	"student_teacher_ratio",
	"college_readiness",
	"address",
	"city",
	"state",
	"phone",
	"district",
	"reading_proficiency",
	"grades",
	"teachers",
	"college_readiness_index",
	"medal_awarded",
	"math_proficiency",
	"students",
}

var (
	// ErrNoListing is returned when a page has no rankings table.
	ErrNoListing = errors.New("rankings table not found")
	// ErrMissingName is returned when a detail record ends up without a name.
	ErrMissingName = errors.New("school name not found")

	nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)
	fieldTables = []string{
		"table.fields.student_teachers",
		"table.fields.test_scores",
		"table.fields.school_data",
		"table.fields.district",
	}
)

// IDSource derives a record ID from a detail link.
type IDSource interface {
	FromURL(raw string) string
}

// Extractor implements crawler.Extractor for the archived US News layout.
type Extractor struct {
	base   *url.URL
	ids    IDSource
	logger *zap.Logger
}

// New builds an Extractor that resolves relative links against baseURL.
func New(baseURL string, ids IDSource, logger *zap.Logger) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if ids == nil {
		return nil, errors.New("id source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{base: base, ids: ids, logger: logger.Named("usnews")}, nil
}

// ExtractListing returns the ranked rows of a listing page and the link to the
// following page, if any.
func (e *Extractor) ExtractListing(content []byte) ([]crawler.SummaryEntry, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("parse listing: %w", err)
	}
	table := doc.Find("table.ranking-data")
	if table.Length() == 0 {
		return nil, "", ErrNoListing
	}

	var entries []crawler.SummaryEntry
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		rank := row.Find("td.rank span.rankings-score").First()
		name := row.Find("td.hs_display_name a").First()
		href, ok := name.Attr("href")
		if rank.Length() == 0 || name.Length() == 0 || !ok {
			e.logger.Warn("listing row without rank or name", zap.Int("row", i))
			return
		}
		link, err := e.resolve(href)
		if err != nil {
			e.logger.Warn("listing row with bad link", zap.Int("row", i), zap.String("href", href), zap.Error(err))
			return
		}
		schoolName := text(name)
		entries = append(entries, crawler.SummaryEntry{
			ID:   e.ids.FromURL(link),
			Name: schoolName,
			Link: link,
			Fields: map[string]any{
				"name":                  schoolName,
				"link":                  link,
				"national_rank":         orNA(text(rank)),
				"student_teacher_ratio": orNA(text(row.Find("td.g_school_in_country_student_teachers_stacked .lead-value").First())),
				"college_readiness":     orNA(text(row.Find("td.g_school_in_country_college_readiness_index_stacked .lead-value").First())),
			},
		})
	})

	next := ""
	doc.Find("a.pager_link").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if text(a) != ">" {
			return true
		}
		if href, ok := a.Attr("href"); ok {
			if resolved, err := e.resolve(href); err == nil {
				next = resolved
			}
		}
		return false
	})
	return entries, next, nil
}

// ExtractDetail enriches seed with everything the school's own page shows.
func (e *Extractor) ExtractDetail(content []byte, seed crawler.SummaryEntry) (crawler.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("parse detail: %w", err)
	}

	fields := make(map[string]any, len(seed.Fields)+len(KnownFields)+8)
	for _, k := range KnownFields {
		fields[k] = NotAvailable
	}
	for k, v := range seed.Fields {
		fields[k] = v
	}
	fields["name"] = seed.Name
	fields["link"] = seed.Link
	if _, ok := fields["national_rank"]; !ok {
		fields["national_rank"] = NotAvailable
	}

	if h1 := text(doc.Find("h1").First()); h1 != "" {
		fields["name"] = h1
	}

	if box := doc.Find("div#schoolbox"); box.Length() > 0 {
		paras := box.Find("p")
		if address := text(paras.Eq(0)); address != "" {
			fields["address"] = address
			city, state := splitCityState(address)
			fields["city"] = city
			fields["state"] = state
		}
		if phone := strings.TrimSpace(strings.TrimPrefix(text(paras.Eq(1)), "Phone:")); phone != "" {
			fields["phone"] = phone
		}
	}

	if district := strings.TrimSpace(strings.Replace(text(doc.Find("p#district").First()), "District:", "", 1)); district != "" {
		fields["district"] = district
	}

	if fields["national_rank"] == NotAvailable {
		doc.Find("table.fields.rankings_awards tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("td")
			if !strings.Contains(text(cells.First()), "National Rankings") {
				return true
			}
			if v := text(cells.Eq(1)); v != "" {
				fields["national_rank"] = v
			}
			return false
		})
	}

	doc.Find("div#scorebox dt").Each(func(_ int, dt *goquery.Selection) {
		setField(fields, text(dt), text(dt.NextAllFiltered("dd").First()))
	})

	doc.Find("ul#academic-stats li").Each(func(_ int, li *goquery.Selection) {
		setField(fields, text(li.Find("span.label").First()), text(li.Find("strong").First()))
	})

	doc.Find("table.fields.rankings_awards tr").Each(func(_ int, row *goquery.Selection) {
		value := row.Find("td.column-last").First()
		if value.Length() == 0 {
			value = row.Find("span.rankings-score").First()
		}
		setField(fields, text(row.Find("td.column-first").First()), text(value))
	})

	for _, sel := range fieldTables {
		doc.Find(sel + " tr").Each(func(_ int, row *goquery.Selection) {
			setField(fields, text(row.Find("td.column-first").First()), text(row.Find("td.column-last").First()))
		})
	}

	name, _ := fields["name"].(string)
	if strings.TrimSpace(name) == "" {
		return crawler.Record{}, ErrMissingName
	}
	return crawler.Record{ID: seed.ID, Fields: fields}, nil
}

func (e *Extractor) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return e.base.ResolveReference(ref).String(), nil
}

// NormalizeKey turns a label such as "Student/Teacher Ratio:" into
// "student_teacher_ratio".
func NormalizeKey(label string) string {
	return strings.Trim(nonKeyChars.ReplaceAllString(strings.ToLower(label), "_"), "_")
}

func setField(fields map[string]any, label, value string) {
	key := NormalizeKey(label)
	if key == "" || value == "" {
		return
	}
	fields[key] = value
}

// splitCityState reads "123 Main St, Springfield, IL 62701" as
// ("Springfield", "IL").
func splitCityState(address string) (string, string) {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return NotAvailable, NotAvailable
	}
	city := strings.TrimSpace(parts[len(parts)-2])
	stateZip := strings.Fields(parts[len(parts)-1])
	if city == "" || len(stateZip) == 0 {
		return NotAvailable, NotAvailable
	}
	return city, stateZip[0]
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
