package httpdriver

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/css/scanner"
)

var unrenderedTags = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"template": true,
	"noscript": true,
	"title":    true,
	"meta":     true,
}

// Form controls get padding and a border from the user-agent stylesheet, so a
// zero width or height alone still leaves a box.
var paddedTags = map[string]bool{
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// isVisible approximates a rendered, non-zero box from markup. Ancestors hide the
// element through the hidden attribute or display:none and visibility:hidden; size
// is only read from the element itself.
func isVisible(sel *goquery.Selection) bool {
	if hiddenByAttr(sel) || hasZeroSize(inlineStyle(sel), paddedTags[goquery.NodeName(sel)]) {
		return false
	}
	if goquery.NodeName(sel) == "input" && strings.EqualFold(sel.AttrOr("type", ""), "hidden") {
		return false
	}

	hidden := false
	sel.AddSelection(sel.Parents()).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if unrenderedTags[goquery.NodeName(s)] || hiddenByAttr(s) {
			hidden = true
			return false
		}
		style := inlineStyle(s)
		if style["display"] == "none" || style["visibility"] == "hidden" || style["visibility"] == "collapse" {
			hidden = true
			return false
		}
		return true
	})
	return !hidden
}

func hiddenByAttr(s *goquery.Selection) bool {
	_, ok := s.Attr("hidden")
	return ok
}

// inlineStyle tokenizes the style attribute and returns its declarations with
// lower-cased properties and values. Comments are dropped, a later declaration
// wins, and parsing stops at the first tokenizer error.
func inlineStyle(s *goquery.Selection) map[string]string {
	raw, ok := s.Attr("style")
	if !ok {
		return nil
	}
	out := make(map[string]string)
	var prop string
	var value strings.Builder
	inValue := false

	flush := func() {
		if inValue && prop != "" {
			v := strings.TrimSpace(strings.ToLower(value.String()))
			if before, ok := strings.CutSuffix(v, "important"); ok && strings.HasSuffix(strings.TrimSpace(before), "!") {
				v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(before), "!"))
			}
			out[prop] = v
		}
		prop, inValue = "", false
		value.Reset()
	}

	sc := scanner.New(raw)
	for {
		tok := sc.Next()
		switch {
		case tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError:
			flush()
			return out
		case tok.Type == scanner.TokenComment:
			continue
		case tok.Type == scanner.TokenChar && tok.Value == ";":
			flush()
		case tok.Type == scanner.TokenChar && tok.Value == ":" && !inValue:
			inValue = true
		case inValue:
			if tok.Type == scanner.TokenS {
				value.WriteByte(' ')
			} else {
				value.WriteString(tok.Value)
			}
		case tok.Type == scanner.TokenIdent:
			prop = strings.ToLower(tok.Value)
		}
	}
}

// hasZeroSize reports a collapsed box: zero width with no horizontal padding or
// border, or zero height with no vertical padding or border. padded marks
// elements whose unset padding and border are non-zero by default.
func hasZeroSize(style map[string]string, padded bool) bool {
	if style == nil {
		return false
	}
	if padded && !borderIsZero(style) {
		return false
	}
	return isZeroLength(style["width"]) && paddingIsZero(style, padded, 1, 3) ||
		isZeroLength(style["height"]) && paddingIsZero(style, padded, 0, 2)
}

var paddingSides = [4]string{"padding-top", "padding-right", "padding-bottom", "padding-left"}

// paddingIsZero checks the two sides a and b (indexes in top, right, bottom,
// left order) from the longhands or the padding shorthand.
func paddingIsZero(style map[string]string, padded bool, a, b int) bool {
	shorthand := expandBox(style["padding"])
	for _, side := range []int{a, b} {
		v, ok := style[paddingSides[side]]
		if !ok && shorthand != nil {
			v, ok = shorthand[side], true
		}
		if !ok {
			if padded {
				return false
			}
			continue
		}
		if !isZeroLength(v) {
			return false
		}
	}
	return true
}

func borderIsZero(style map[string]string) bool {
	if v, ok := style["border-width"]; ok {
		for _, w := range strings.Fields(v) {
			if !isZeroLength(w) {
				return false
			}
		}
		return true
	}
	if v, ok := style["border-style"]; ok && (v == "none" || v == "hidden") {
		return true
	}
	if v, ok := style["border"]; ok {
		for _, part := range strings.Fields(v) {
			if part == "none" || part == "hidden" || isZeroLength(part) {
				return true
			}
		}
	}
	return false
}

// expandBox expands a one to four value box shorthand into top, right, bottom
// and left.
func expandBox(v string) []string {
	f := strings.Fields(v)
	switch len(f) {
	case 1:
		return []string{f[0], f[0], f[0], f[0]}
	case 2:
		return []string{f[0], f[1], f[0], f[1]}
	case 3:
		return []string{f[0], f[1], f[2], f[1]}
	case 4:
		return f
	}
	return nil
}

func isZeroLength(v string) bool {
	if v == "" {
		return false
	}
	num := strings.TrimRightFunc(v, func(r rune) bool { return r >= 'a' && r <= 'z' || r == '%' })
	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	return err == nil && f == 0
}
