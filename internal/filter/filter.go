// Package filter implements the ad/analytics DOM filter (spec.md §4.F):
// a clean pass that strips known ad/analytics script and iframe elements,
// and an inject pass that appends operator-supplied ad markup and tracker
// JS. Ported from the original filter_ads.py, using goquery the way the
// rest of the pack reaches for an HTML-DOM library instead of regexing
// markup by hand.
package filter

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// AdPatterns are substrings matched case-insensitively against src
// attributes of <script>/<iframe> elements during the clean pass.
var AdPatterns = []string{
	"doubleclick",
	"googlesyndication",
	"adsystem",
	"adservice",
	"adsbygoogle",
	"googletagmanager",
	"google-analytics",
	"googleadservices",
}

// InlineScriptPatterns are substrings matched against inline <script> text
// during the clean pass.
var InlineScriptPatterns = []string{
	"gtag(",
	"ga(",
	"GoogleAnalyticsObject",
	"fbq(",
	"_gaq",
	"dataLayer",
}

// Config is the subset of site.EffectiveConfig the filter needs.
type Config struct {
	RemoveAds       bool
	RemoveAnalytics bool
	InjectAds       bool
	CustomAdHTML    string
	CustomTrackerJS string
}

func matchesAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// Clean removes ad/analytics scripts and iframes. If neither RemoveAds nor
// RemoveAnalytics is set, html is returned unchanged byte-for-byte.
func Clean(html string, cfg Config) (string, error) {
	if !cfg.RemoveAds && !cfg.RemoveAnalytics {
		return html, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, err
	}

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if matchesAny(strings.ToLower(src), AdPatterns) {
			s.Remove()
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, hasSrc := s.Attr("src"); hasSrc {
			return
		}
		text := s.Text()
		if text == "" {
			return
		}
		if matchesAny(text, InlineScriptPatterns) {
			s.Remove()
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if matchesAny(strings.ToLower(src), AdPatterns) {
			s.Remove()
		}
	})

	return doc.Html()
}

// Inject appends operator-supplied ad markup and/or tracker JS to the
// document body (falling back to head, then html, for the tracker script).
// A no-op call (nothing configured) returns html unchanged.
func Inject(html string, cfg Config) (string, error) {
	if cfg.CustomAdHTML == "" && cfg.CustomTrackerJS == "" {
		return html, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, err
	}

	body := doc.Find("body").First()

	if cfg.InjectAds && cfg.CustomAdHTML != "" && body.Length() > 0 {
		adFragment, err := goquery.NewDocumentFromReader(strings.NewReader(cfg.CustomAdHTML))
		if err == nil {
			adBody := adFragment.Find("body").First()
			if adBody.Length() > 0 {
				adBody.Contents().Each(func(_ int, c *goquery.Selection) {
					body.AppendSelection(c)
				})
			} else {
				adFragment.Find("body > *").Each(func(_ int, c *goquery.Selection) {
					body.AppendSelection(c)
				})
			}
		}
	}

	if cfg.CustomTrackerJS != "" {
		script := "<script>" + cfg.CustomTrackerJS + "</script>"
		switch {
		case body.Length() > 0:
			body.AppendHtml(script)
		case doc.Find("head").Length() > 0:
			doc.Find("head").First().AppendHtml(script)
		case doc.Find("html").Length() > 0:
			doc.Find("html").First().AppendHtml(script)
		}
	}

	return doc.Html()
}
