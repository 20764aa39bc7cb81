// Package rewrite implements the HTML/CSS/JS rewriter (spec.md §4.G):
// an attribute sweep over URL-bearing elements, an optional inline-JS
// redirect rewrite, and a CSS url() rewrite applied to <style> elements
// and style="" attributes. Ported from the original rewriter.py, with
// every URL decision delegated to internal/mapper.Reverse so the mirror-
// mapping rules live in exactly one place.
package rewrite

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorproxy/internal/mapper"
)

// Config is the subset of site.EffectiveConfig the rewriter needs.
type Config struct {
	ProxyExternalDomains bool
	RewriteJSRedirects   bool
	MediaBypass          bool
}

// attributeTargets lists each (tag, attribute) pair rewritten by the
// attribute sweep, in the same order as the original's rewrite_html.
var attributeTargets = []struct {
	selector  string
	attribute string
}{
	{"a[href]", "href"},
	{"form[action]", "action"},
	{"iframe[src]", "src"},
	{"link[href]", "href"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"source[src]", "src"},
	{"video[src]", "src"},
	{"audio[src]", "src"},
	{"base[href]", "href"},
}

var jsRedirectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`window\.location\.href\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`([^.]|^)\blocation\.href\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`location\.replace\s*\(\s*["']([^"']+)["']\s*\)`),
	regexp.MustCompile(`([^.]|^)\blocation\s*=\s*["']([^"']+)["']`),
}

var cssURLPattern = regexp.MustCompile(`url\s*\(\s*(["']?)([^"')]+)(["']?)\s*\)`)

// HTML rewrites an entire HTML document: the attribute sweep, then (when
// enabled) inline JS redirects, then CSS url() rewriting in <style>
// elements and style="" attributes.
func HTML(html string, m mapper.Mapper, currentPageOriginURL string, cfg Config) (string, error) {
	if html == "" {
		return html, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, err
	}

	rewriteOne := func(raw string) string {
		return m.Reverse(raw, currentPageOriginURL, cfg.ProxyExternalDomains, cfg.MediaBypass)
	}

	for _, target := range attributeTargets {
		doc.Find(target.selector).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr(target.attribute)
			if !ok {
				return
			}
			s.SetAttr(target.attribute, rewriteOne(val))
		})
	}

	doc.Find("img[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, ok := s.Attr("srcset")
		if !ok {
			return
		}
		s.SetAttr("srcset", rewriteSrcset(srcset, rewriteOne))
	})

	if cfg.RewriteJSRedirects {
		doc.Find("script").Each(func(_ int, s *goquery.Selection) {
			if _, hasSrc := s.Attr("src"); hasSrc {
				return
			}
			text := s.Text()
			if text == "" {
				return
			}
			rewritten := JSRedirects(text, m, currentPageOriginURL, cfg)
			if rewritten != text {
				s.SetHtml(rewritten)
			}
		})
	}

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			return
		}
		rewritten := CSSURLs(text, m, currentPageOriginURL, cfg)
		if rewritten != text {
			s.SetHtml(rewritten)
		}
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, ok := s.Attr("style")
		if !ok || !strings.Contains(style, "url(") {
			return
		}
		rewritten := CSSURLs(style, m, currentPageOriginURL, cfg)
		if rewritten != style {
			s.SetAttr("style", rewritten)
		}
	})

	return doc.Html()
}

// rewriteSrcset applies rewrite to the URL portion of each comma-separated
// "url descriptor" token in a srcset attribute value, preserving the
// descriptor (e.g. "1x", "480w").
func rewriteSrcset(srcset string, rewriteOne func(string) string) string {
	parts := strings.Split(srcset, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.LastIndex(part, " "); idx >= 0 {
			urlPart := strings.TrimSpace(part[:idx])
			descriptor := strings.TrimSpace(part[idx+1:])
			out = append(out, rewriteOne(urlPart)+" "+descriptor)
			continue
		}
		out = append(out, rewriteOne(part))
	}
	return strings.Join(out, ", ")
}

// JSRedirects rewrites the URL literal in window.location.href/location.href/
// location.replace()/location = assignments found in inline script text,
// preserving the surrounding assignment syntax and quote style.
func JSRedirects(js string, m mapper.Mapper, currentPageOriginURL string, cfg Config) string {
	if js == "" {
		return js
	}

	rewriteOne := func(raw string) string {
		return m.Reverse(raw, currentPageOriginURL, cfg.ProxyExternalDomains, cfg.MediaBypass)
	}

	// Each pattern's last capture group is the URL literal; the whole
	// matched text is preserved as-is except for that substring, the same
	// way the original's replace_url swaps only the URL inside full_match.
	js = replaceCapturedURL(js, jsRedirectPatterns[0], 1, rewriteOne)
	js = replaceCapturedURL(js, jsRedirectPatterns[1], 2, rewriteOne)
	js = replaceCapturedURL(js, jsRedirectPatterns[2], 1, rewriteOne)
	js = replaceCapturedURL(js, jsRedirectPatterns[3], 2, rewriteOne)

	return js
}

// replaceCapturedURL reruns re over js, and for every match rewrites only
// the urlGroup-th capture (the URL literal) via rewriteOne, leaving the
// rest of the matched text untouched.
func replaceCapturedURL(js string, re *regexp.Regexp, urlGroup int, rewriteOne func(string) string) string {
	return re.ReplaceAllStringFunc(js, func(match string) string {
		sub := re.FindStringSubmatch(match)
		url := sub[urlGroup]
		rewritten := rewriteOne(url)
		if rewritten == url {
			return match
		}
		return strings.Replace(match, url, rewritten, 1)
	})
}

// CSSURLs rewrites every url(...) occurrence in CSS content (a <style>
// body or a style="" attribute value), skipping data: and fragment-only
// references.
func CSSURLs(css string, m mapper.Mapper, currentPageOriginURL string, cfg Config) string {
	if css == "" {
		return css
	}

	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		openQuote, raw, closeQuote := sub[1], strings.TrimSpace(sub[2]), sub[3]

		if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "#") {
			return match
		}

		rewritten := m.Reverse(raw, currentPageOriginURL, cfg.ProxyExternalDomains, cfg.MediaBypass)

		quote := openQuote
		if quote == "" {
			quote = closeQuote
		}
		return "url(" + quote + rewritten + quote + ")"
	})
}
