package critical

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// rule is a statement of a parsed stylesheet. Style rules carry selectors
// and declarations. Block at-rules carry declarations (@font-face), child
// rules (@media, @keyframes) or, for at-rules the parser does not
// structure, their raw body.
type rule struct {
	prelude   string
	selectors []string
	decls     []string
	children  []rule
	raw       string
	at        bool
	block     bool
}

// groupingAtRules hold nested style rules that are filtered like top-level
// ones. Everything else is kept whole.
var groupingAtRules = map[string]bool{
	"@media":         true,
	"@supports":      true,
	"@layer":         true,
	"@document":      true,
	"@-moz-document": true,
}

func minifyCSS(sheet string) (string, error) {
	result := api.Transform(sheet, api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsNone,
		LogLevel:         api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		return "", fmt.Errorf("minifying css: %s", strings.Join(msgs, "; "))
	}
	return strings.TrimSpace(string(result.Code)), nil
}

// parseRules builds the rule tree of sheet. Declarations the parser
// rejects are dropped.
func parseRules(sheet string) ([]rule, error) {
	p := css.NewParser(parse.NewInputString(sheet), false)
	root := &rule{}
	stack := []*rule{root}
	top := func() *rule { return stack[len(stack)-1] }

	for {
		gt, tt, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if p.HasParseError() {
				if tt != css.ErrorToken {
					continue
				}
			} else if err := p.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("parsing css: %w", err)
			}
			// Unterminated blocks close at the end of input.
			for len(stack) > 1 {
				r := top()
				stack = stack[:len(stack)-1]
				top().children = append(top().children, *r)
			}
			return root.children, nil
		case css.AtRuleGrammar:
			top().children = append(top().children, rule{
				prelude: string(data) + joinTokens(p.Values()),
				at:      true,
			})
		case css.BeginAtRuleGrammar:
			stack = append(stack, &rule{
				prelude: string(data) + joinTokens(p.Values()),
				at:      true,
				block:   true,
			})
		case css.BeginRulesetGrammar:
			stack = append(stack, &rule{selectors: splitSelectorList(p.Values()), block: true})
		case css.EndAtRuleGrammar, css.EndRulesetGrammar:
			if len(stack) == 1 {
				continue
			}
			r := top()
			stack = stack[:len(stack)-1]
			top().children = append(top().children, *r)
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			if len(stack) > 1 {
				top().decls = append(top().decls, string(data)+":"+joinTokens(p.Values()))
			}
		case css.TokenGrammar:
			// Body of an at-rule the parser does not structure, or CDO/CDC
			// at the top level.
			if len(stack) > 1 {
				top().raw += string(data)
			}
		}
	}
}

func joinTokens(tokens []css.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.Write(t.Data)
	}
	return b.String()
}

// splitSelectorList splits a selector list on its top-level commas, so
// commas inside :not(...) and attribute values stay put.
func splitSelectorList(tokens []css.Token) []string {
	var out []string
	var b strings.Builder
	depth := 0
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, t := range tokens {
		switch t.TokenType {
		case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			depth--
		case css.CommaToken:
			if depth == 0 {
				flush()
				continue
			}
		}
		b.Write(t.Data)
	}
	flush()
	return out
}

func atName(prelude string) string {
	end := strings.IndexFunc(prelude, func(r rune) bool { return r == ' ' || r == '(' || r == '{' })
	if end == -1 {
		end = len(prelude)
	}
	return strings.ToLower(prelude[:end])
}

func (r rule) String() string {
	if !r.block {
		return r.prelude + ";"
	}
	var b strings.Builder
	if r.at {
		b.WriteString(r.prelude)
	} else {
		b.WriteString(strings.Join(r.selectors, ","))
	}
	b.WriteByte('{')
	b.WriteString(strings.Join(r.decls, ";"))
	for _, c := range r.children {
		b.WriteString(c.String())
	}
	b.WriteString(r.raw)
	b.WriteByte('}')
	return b.String()
}
