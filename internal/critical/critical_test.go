package critical

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/cryguy/prerender/internal/core"
	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const page = `<!DOCTYPE html><html lang="en"><head><title>Home</title>` +
	`<link rel="stylesheet" href="styles-ABC.css"></head>` +
	`<body><app-root><h1 class="title">Hello</h1><p>text</p></app-root></body></html>`

const sheet = `
/* theme */
.title { color: red; }
.unused { color: blue; }
h1 > span, app-root h1 { margin: 0 }
@media (min-width: 600px) {
  .title { font-size: 2em }
  .nope { color: green }
}
@media print { .never { display: none } }
@font-face { font-family: Brand; src: url(brand.woff2) }
`

func TestMain(m *testing.M) {
	v := m.Run()
	snaps.Clean(m)
	os.Exit(v)
}

func TestInlineKeepsMatchingRules(t *testing.T) {
	out, err := Inline(page, map[string]string{"browser/styles-ABC.css": sheet})
	require.NoError(t, err)

	styleAt := strings.Index(out, "<style>")
	linkAt := strings.Index(out, `<link rel="stylesheet" href="styles-ABC.css" media="print"`)
	require.NotEqual(t, -1, styleAt)
	require.NotEqual(t, -1, linkAt)
	assert.Less(t, styleAt, linkAt)

	style := out[styleAt:strings.Index(out, "</style>")]
	assert.Contains(t, style, ".title{color:red}")
	assert.Contains(t, style, "app-root h1{margin:0}")
	assert.Contains(t, style, "font-size:2em")
	assert.Contains(t, style, "@font-face")
	assert.NotContains(t, style, ".unused")
	assert.NotContains(t, style, ".nope")
	assert.NotContains(t, style, ".never")
	assert.NotContains(t, style, "h1>span")

	assert.Contains(t, out, `<noscript><link rel="stylesheet" href="styles-ABC.css"/></noscript>`)

	snaps.WithConfig(snaps.Ext(".html")).MatchSnapshot(t, out)
}

func TestInlineMissingStylesheetFails(t *testing.T) {
	_, err := Inline(page, map[string]string{"other.css": "body{margin:0}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingStylesheet))
	assert.Contains(t, err.Error(), "styles-ABC.css")
}

func TestInlineMatchesByFileName(t *testing.T) {
	doc := `<html><head><link rel="stylesheet" href="/app/styles-ABC.css?v=2" media="screen"></head><body class="dark"></body></html>`
	out, err := Inline(doc, map[string]string{"styles-ABC.css": "body.dark{background:black}"})
	require.NoError(t, err)
	assert.Contains(t, out, "<style>body.dark{background:#000}</style>")
	assert.Contains(t, out, `onload="this.media=&#39;screen&#39;"`)
}

func TestInlineWithoutStylesheetsOnlyNormalizes(t *testing.T) {
	out, err := Inline(`<p>plain</p>`, nil)
	require.NoError(t, err)
	assert.Equal(t, "<html><head></head><body><p>plain</p></body></html>", out)
}

func TestSelectorMatching(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><body><nav id="top"><ul class="menu main"><li><a href="/a" data-k="x-y">A</a></li><li class="last">B</li></ul></nav></body></html>`))
	require.NoError(t, err)

	var elements []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	tests := []struct {
		sel  string
		want bool
	}{
		{"a", true},
		{"nav#top", true},
		{"#bottom", false},
		{".menu.main", true},
		{".menu.side", false},
		{"nav > ul > li > a", true},
		{"nav > li", false},
		{"body a", true},
		{"li + li.last", true},
		{"li.last + li", false},
		{"li ~ .last", true},
		{"a[href]", true},
		{`a[href="/a"]`, true},
		{"a[href^='/']", true},
		{"a[href$=b]", false},
		{"a[data-k|=x]", true},
		{"a:hover", true},
		{"li::before", true},
		{":root", true},
		{"ul:not(.x) li", true},
		{"table", false},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			assert.Equal(t, tt.want, anyMatch(parseSelector(tt.sel), elements))
		})
	}
}

func TestSplitSelectorList(t *testing.T) {
	rules, err := parseRules(`a,b:not(c,d),[x="1,2"]{color:red}`)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, []string{"a", "b:not(c,d)", `[x="1,2"]`}, rules[0].selectors)
}

func TestParseRulesRoundTrip(t *testing.T) {
	sheet := `@charset "utf-8";@import url(a.css) screen;` +
		`.a,.b:not(.c,.d),[x="1,2"]{color:red!important;width:calc(100% - 10px);--gap:4px}` +
		`@keyframes spin{from{transform:rotate(0)}to{transform:rotate(360deg)}}` +
		`@container card (min-width:400px){.a{color:blue}}` +
		`@media print{.p{display:none}}`

	rules, err := parseRules(sheet)
	require.NoError(t, err)
	require.Len(t, rules, 6)

	assert.False(t, rules[0].block)
	assert.Equal(t, []string{"color:red!important", "width:calc(100% - 10px)", "--gap:4px"}, rules[2].decls)
	assert.Len(t, rules[3].children, 2)
	assert.Equal(t, ".a{color:blue}", rules[4].raw)
	assert.Equal(t, "@media print", rules[5].prelude)

	var b strings.Builder
	for _, r := range rules {
		b.WriteString(r.String())
	}
	assert.Equal(t, sheet, b.String())
}

func TestInlineSkipsRemoteStylesheets(t *testing.T) {
	doc := `<html><head>` +
		`<link rel="stylesheet" href="https://fonts.googleapis.com/css2?family=Roboto">` +
		`<link rel="stylesheet" href="//cdn.example.com/reset.css">` +
		`<link rel="stylesheet" href="styles.css">` +
		`</head><body><h1>Hi</h1></body></html>`

	out, err := Inline(doc, map[string]string{"styles.css": "h1{color:red}"})
	require.NoError(t, err)
	assert.Contains(t, out, "<style>h1{color:red}</style>")
	assert.Contains(t, out, `<link rel="stylesheet" href="https://fonts.googleapis.com/css2?family=Roboto"/>`)
	assert.Contains(t, out, `<link rel="stylesheet" href="//cdn.example.com/reset.css"/>`)
	assert.Equal(t, 1, strings.Count(out, "<noscript>"))
}

func TestInlineKeepsKeyframesWhole(t *testing.T) {
	doc := `<html><head><link rel="stylesheet" href="s.css"></head><body><p class="a">x</p></body></html>`
	out, err := Inline(doc, map[string]string{"s.css": `
@keyframes spin { from { opacity: 0 } to { opacity: 1 } }
@supports (display: grid) { .a { display: grid } .b { display: grid } }
.b { color: blue }`})
	require.NoError(t, err)
	assert.Contains(t, out, "@keyframes spin{")
	assert.Contains(t, out, "opacity:1}}")
	assert.Contains(t, out, ".a{display:grid}")
	assert.NotContains(t, out, ".b")
}
