package driver

import (
	"fmt"
	"strings"
)

// Strategy is how a locator addresses elements.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Locator is a parsed element locator, normalised to CSS or XPath.
type Locator struct {
	Raw      string
	Strategy Strategy
	Selector string
}

func (l Locator) String() string { return l.Raw }

// ParseLocator understands the recorder's prefixes: id=, name=, css=,
// xpath=, linkText= (or link=) and partialLinkText=. Unprefixed text that
// starts with "//" or "(" is XPath; anything else is CSS.
func ParseLocator(raw string) (Locator, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}

	prefix, rest, ok := strings.Cut(s, "=")
	if ok && isStrategyPrefix(prefix) {
		if rest == "" {
			return Locator{}, fmt.Errorf("locator %q has no value", raw)
		}
		switch prefix {
		case "id":
			return Locator{Raw: raw, Strategy: ByCSS, Selector: fmt.Sprintf(`[id=%s]`, cssString(rest))}, nil
		case "name":
			return Locator{Raw: raw, Strategy: ByCSS, Selector: fmt.Sprintf(`[name=%s]`, cssString(rest))}, nil
		case "css":
			return Locator{Raw: raw, Strategy: ByCSS, Selector: rest}, nil
		case "xpath":
			return Locator{Raw: raw, Strategy: ByXPath, Selector: rest}, nil
		case "linkText", "link":
			return Locator{Raw: raw, Strategy: ByXPath, Selector: fmt.Sprintf(`//a[normalize-space(.)=%s]`, xpathString(rest))}, nil
		case "partialLinkText":
			return Locator{Raw: raw, Strategy: ByXPath, Selector: fmt.Sprintf(`//a[contains(normalize-space(.),%s)]`, xpathString(rest))}, nil
		}
	}

	if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(") {
		return Locator{Raw: raw, Strategy: ByXPath, Selector: s}, nil
	}
	return Locator{Raw: raw, Strategy: ByCSS, Selector: s}, nil
}

func isStrategyPrefix(p string) bool {
	switch p {
	case "id", "name", "css", "xpath", "linkText", "link", "partialLinkText":
		return true
	}
	return false
}

// cssString quotes s as a CSS attribute value.
func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// xpathString quotes s as an XPath 1.0 literal. XPath has no escapes, so a
// value holding both quote kinds is built with concat().
func xpathString(s string) string {
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, `'`+p+`'`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
