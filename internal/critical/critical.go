// Package critical inlines the stylesheet rules a rendered page actually
// uses into a <style> element and defers loading of the full stylesheet.
package critical

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cryguy/prerender/internal/core"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Inline rewrites page so that every local <link rel="stylesheet"> is
// preceded by a <style> element holding the rules that match the document,
// and the link itself loads without blocking render. Stylesheets are looked
// up in css by file name; a local link whose file is missing fails with
// ErrMissingStylesheet. Remote links (with a scheme, or protocol-relative)
// are left untouched.
func Inline(page string, css map[string]string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parsing rendered page: %w", err)
	}

	byName := make(map[string]string, len(css))
	for name, content := range css {
		byName[path.Base(strings.ReplaceAll(name, "\\", "/"))] = content
	}

	var elements, links []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
			if isStylesheetLink(n) && !isRemote(attr(n, "href")) {
				links = append(links, n)
			}
		}
		// Fallback links are already deferred.
		if n.Type == html.ElementNode && n.DataAtom == atom.Noscript {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, link := range links {
		href := attr(link, "href")
		name := stylesheetName(href)
		sheet, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", core.ErrMissingStylesheet, href)
		}

		used, err := usedRules(sheet, elements)
		if err != nil {
			return "", fmt.Errorf("processing %s: %w", name, err)
		}
		if used != "" {
			style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
			style.AppendChild(&html.Node{Type: html.TextNode, Data: used})
			link.Parent.InsertBefore(style, link)
		}
		deferLink(link)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isStylesheetLink(n *html.Node) bool {
	if n.DataAtom != atom.Link || attr(n, "href") == "" {
		return false
	}
	return contains(strings.Fields(strings.ToLower(attr(n, "rel"))), "stylesheet")
}

// isRemote reports whether href points outside the build output, such as
// https://fonts.googleapis.com/... or //cdn.example.com/....
func isRemote(href string) bool {
	if strings.HasPrefix(href, "//") {
		return true
	}
	u, err := url.Parse(href)
	return err == nil && u.Scheme != ""
}

// stylesheetName reduces an href such as /app/styles-X.css?v=1 to its file
// name.
func stylesheetName(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	return path.Base(href)
}

// deferLink switches the link to print media until it loads and adds a
// <noscript> fallback for clients without script.
func deferLink(link *html.Node) {
	fallback := &html.Node{Type: html.ElementNode, Data: "link", DataAtom: atom.Link}
	for _, a := range link.Attr {
		if a.Key != "media" && a.Key != "onload" {
			fallback.Attr = append(fallback.Attr, a)
		}
	}

	media := attr(link, "media")
	if media == "" {
		media = "all"
	}
	setAttr(link, "media", "print")
	setAttr(link, "onload", "this.media='"+media+"'")

	noscript := &html.Node{Type: html.ElementNode, Data: "noscript", DataAtom: atom.Noscript}
	noscript.AppendChild(fallback)
	if link.NextSibling != nil {
		link.Parent.InsertBefore(noscript, link.NextSibling)
	} else {
		link.Parent.AppendChild(noscript)
	}
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// usedRules returns the minified subset of sheet that applies to elements.
func usedRules(sheet string, elements []*html.Node) (string, error) {
	minified, err := minifyCSS(sheet)
	if err != nil {
		return "", err
	}
	rules, err := parseRules(minified)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range filterRules(rules, elements) {
		b.WriteString(r.String())
	}
	return b.String(), nil
}

func filterRules(rules []rule, elements []*html.Node) []rule {
	var kept []rule
	for _, r := range rules {
		switch {
		case r.at && groupingAtRules[atName(r.prelude)]:
			children := filterRules(r.children, elements)
			if len(children) == 0 {
				continue
			}
			r.children = children
			kept = append(kept, r)
		case r.at:
			// @font-face, @keyframes, @import and friends are kept whole.
			kept = append(kept, r)
		default:
			var selectors []string
			for _, s := range r.selectors {
				if anyMatch(parseSelector(s), elements) {
					selectors = append(selectors, s)
				}
			}
			if len(selectors) == 0 {
				continue
			}
			r.selectors = selectors
			kept = append(kept, r)
		}
	}
	return kept
}

func anyMatch(sel *selector, elements []*html.Node) bool {
	for _, n := range elements {
		if sel.matches(n) {
			return true
		}
	}
	return false
}
