package critical

import (
	"strings"

	"golang.org/x/net/html"
)

// simpleSelector is one compound step of a selector: tag, id, classes and
// attribute tests. Pseudo-classes and pseudo-elements are dropped, so a
// rule for a:hover is kept whenever the page has an <a>.
type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatcher
}

type attrMatcher struct {
	name  string
	op    string // "", "=", "*=", "^=", "$=", "~=", "|="
	value string
}

type combinator int

const (
	combNone combinator = iota
	combDescendant
	combChild
	combAdjacent
	combSibling
)

type selectorStep struct {
	sel  *simpleSelector
	comb combinator // relation to the next step toward the subject
}

// selector is a parsed complex selector; steps[len-1] is the subject.
type selector struct {
	steps []selectorStep
}

func parseSelector(s string) *selector {
	tokens := tokenizeSelector(strings.TrimSpace(s))
	if len(tokens) == 0 {
		return &selector{steps: []selectorStep{{sel: &simpleSelector{tag: "*"}}}}
	}

	var steps []selectorStep
	for i := 0; i < len(tokens); {
		sel := parseSimple(tokens[i])
		i++
		comb := combNone
		if i < len(tokens) {
			switch tokens[i] {
			case ">":
				comb = combChild
			case "+":
				comb = combAdjacent
			case "~":
				comb = combSibling
			default:
				comb = combDescendant
			}
			i++
		}
		steps = append(steps, selectorStep{sel: sel, comb: comb})
	}
	return &selector{steps: steps}
}

// tokenizeSelector splits s into simple selectors and the combinators
// ">", "+", "~" and " " between them.
func tokenizeSelector(s string) []string {
	var tokens []string
	n := len(s)
	for i := 0; i < n; {
		ws := i
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		if s[i] == '>' || s[i] == '+' || s[i] == '~' {
			tokens = append(tokens, string(s[i]))
			i++
			continue
		}
		if i > ws && len(tokens) > 0 && !isCombinator(tokens[len(tokens)-1]) {
			tokens = append(tokens, " ")
		}

		start := i
		depth := 0
		for i < n {
			c := s[i]
			if depth == 0 && (isSpace(c) || c == '>' || c == '+' || c == '~') {
				break
			}
			switch c {
			case '[', '(':
				depth++
			case ']', ')':
				depth--
			}
			i++
		}
		tokens = append(tokens, s[start:i])
	}
	return tokens
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }

func isCombinator(t string) bool { return t == ">" || t == "+" || t == "~" || t == " " }

// parseSimple parses "div.a#b[x=y]:hover::before".
func parseSimple(s string) *simpleSelector {
	sel := &simpleSelector{}
	n := len(s)
	i := 0
	for i < n && !strings.ContainsRune("#.[:", rune(s[i])) {
		i++
	}
	sel.tag = s[:i]

	for i < n {
		switch s[i] {
		case '#', '.':
			kind := s[i]
			i++
			start := i
			for i < n && !strings.ContainsRune("#.[:", rune(s[i])) {
				i++
			}
			if kind == '#' {
				sel.id = s[start:i]
			} else {
				sel.classes = append(sel.classes, s[start:i])
			}
		case '[':
			i++
			start := i
			for i < n && s[i] != ']' {
				i++
			}
			sel.attrs = append(sel.attrs, parseAttr(s[start:i]))
			if i < n {
				i++
			}
		case ':':
			for i < n && s[i] == ':' {
				i++
			}
			start := i
			for i < n && !strings.ContainsRune("#.[:(", rune(s[i])) {
				i++
			}
			if strings.EqualFold(s[start:i], "root") && sel.tag == "" {
				sel.tag = "html"
			}
			if i < n && s[i] == '(' {
				depth := 0
				for i < n {
					if s[i] == '(' {
						depth++
					} else if s[i] == ')' {
						depth--
						if depth == 0 {
							i++
							break
						}
					}
					i++
				}
			}
		default:
			i++
		}
	}
	return sel
}

func parseAttr(s string) attrMatcher {
	for _, op := range []string{"*=", "^=", "$=", "~=", "|=", "="} {
		if idx := strings.Index(s, op); idx != -1 {
			v := strings.TrimSpace(s[idx+len(op):])
			v = strings.TrimSuffix(strings.TrimSuffix(v, " i"), " s")
			return attrMatcher{
				name:  strings.TrimSpace(s[:idx]),
				op:    op,
				value: strings.Trim(v, `"'`),
			}
		}
	}
	return attrMatcher{name: strings.TrimSpace(s)}
}

func (sel *simpleSelector) matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if sel.tag != "" && sel.tag != "*" && !strings.EqualFold(sel.tag, n.Data) {
		return false
	}
	if sel.id != "" && attr(n, "id") != sel.id {
		return false
	}
	if len(sel.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, c := range sel.classes {
			if !contains(have, c) {
				return false
			}
		}
	}
	for _, am := range sel.attrs {
		v, ok := lookupAttr(n, am.name)
		if !ok {
			return false
		}
		switch am.op {
		case "=":
			ok = v == am.value
		case "*=":
			ok = strings.Contains(v, am.value)
		case "^=":
			ok = strings.HasPrefix(v, am.value)
		case "$=":
			ok = strings.HasSuffix(v, am.value)
		case "~=":
			ok = contains(strings.Fields(v), am.value)
		case "|=":
			ok = v == am.value || strings.HasPrefix(v, am.value+"-")
		}
		if !ok {
			return false
		}
	}
	return true
}

// matches walks the steps right to left from n.
func (s *selector) matches(n *html.Node) bool {
	last := len(s.steps) - 1
	if !s.steps[last].sel.matches(n) {
		return false
	}
	cur := n
	for i := last - 1; i >= 0; i-- {
		step := s.steps[i]
		switch step.comb {
		case combChild:
			cur = cur.Parent
			if !step.sel.matches(cur) {
				return false
			}
		case combDescendant:
			for cur = cur.Parent; cur != nil && !step.sel.matches(cur); cur = cur.Parent {
			}
			if cur == nil {
				return false
			}
		case combAdjacent:
			cur = prevElement(cur)
			if !step.sel.matches(cur) {
				return false
			}
		case combSibling:
			for cur = prevElement(cur); cur != nil && !step.sel.matches(cur); cur = prevElement(cur) {
			}
			if cur == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func prevElement(n *html.Node) *html.Node {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}
