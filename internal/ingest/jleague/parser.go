package jleague

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"github.com/fortuna/jstats/internal/listing"
)

// ErrNoRankingList is returned when a page has no ul.ranking_list.
var ErrNoRankingList = errors.New("ranking list not found")

const (
	clubPromptLabel   = "クラブを選択してください"
	seasonPromptLabel = "シーズンを選択してください"
	itemPromptLabel   = "項目を選択してください"
)

// ParseHTML converts raw HTML to a goquery Document for parsing
func ParseHTML(htmlContent string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, errors.Wrap(err, "parse HTML")
	}
	return doc, nil
}

// ParseRanking extracts the player rows of a ranking page. Header items and
// items without a name or value are skipped. Profile links are resolved
// against base.
func ParseRanking(doc *goquery.Document, base *url.URL) ([]listing.Row, error) {
	list := doc.Find("ul.ranking_list").First()
	if list.Length() == 0 {
		return nil, ErrNoRankingList
	}

	var rows []listing.Row
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		if li.HasClass("ranking_header") || li.Find("p.rank_title").Length() > 0 {
			return
		}

		name := li.Find("p.name").First()
		value := li.Find("div[class^='ranking_stats_'] p").First()
		if value.Length() == 0 {
			value = li.Find("div.ranking_stats p").First()
		}
		if name.Length() == 0 || value.Length() == 0 {
			return
		}

		row := listing.Row{
			PlayerName:   strings.TrimSpace(name.Text()),
			TeamName:     strings.TrimSpace(li.Find("p.team").First().Text()),
			DisplayValue: strings.TrimSpace(value.Text()),
		}
		if href, ok := li.Find("a[href]").First().Attr("href"); ok {
			row.ProfileLink = absolutize(base, href)
		}
		rows = append(rows, row)
	})
	return rows, nil
}

// ParseTeamOptions returns the team slugs listed in the club selector: the
// option values following the club prompt, up to the season or item prompt.
func ParseTeamOptions(doc *goquery.Document) []string {
	var teams []string
	seen := make(map[string]struct{})
	inClubs := false

	doc.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		text := strings.TrimSpace(opt.Text())
		value := strings.TrimSpace(opt.AttrOr("value", ""))

		if strings.Contains(text, clubPromptLabel) {
			inClubs = true
			return true
		}
		if !inClubs {
			return true
		}
		if strings.Contains(text, seasonPromptLabel) || strings.Contains(text, itemPromptLabel) {
			return false
		}
		if value == "" || value == "all" {
			return true
		}
		if _, dup := seen[value]; !dup {
			seen[value] = struct{}{}
			teams = append(teams, value)
		}
		return true
	})
	return teams
}

func absolutize(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
