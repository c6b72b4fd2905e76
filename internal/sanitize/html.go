// Package sanitize cleans untrusted upstream text before it reaches a browser.
package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[atom.Atom]bool{
	atom.A:      true,
	atom.Strong: true,
	atom.B:      true,
	atom.Em:     true,
	atom.I:      true,
	atom.Br:     true,
	atom.P:      true,
	atom.Ul:     true,
	atom.Ol:     true,
	atom.Li:     true,
}

// Description keeps a small set of formatting tags from a breach description and
// escapes everything else. Links are limited to http(s) and always open in a new tab
// without an opener reference.
func Description(in string) string {
	if in == "" {
		return ""
	}

	var b strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(in))
	// text inside these is dropped entirely
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			// io.EOF or malformed input: keep what was emitted so far
			return b.String()

		case xhtml.TextToken:
			if skipDepth == 0 {
				b.WriteString(html.EscapeString(string(z.Text())))
			}

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				if tt == xhtml.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 || !allowedTags[tok.DataAtom] {
				continue
			}
			if tok.DataAtom == atom.A {
				writeAnchor(&b, tok.Attr)
				continue
			}
			b.WriteString("<" + tok.Data)
			if tt == xhtml.SelfClosingTagToken || tok.DataAtom == atom.Br {
				b.WriteString(" />")
			} else {
				b.WriteString(">")
			}

		case xhtml.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 || !allowedTags[tok.DataAtom] || tok.DataAtom == atom.Br {
				continue
			}
			b.WriteString("</" + tok.Data + ">")
		}
	}
}

func writeAnchor(b *strings.Builder, attrs []xhtml.Attribute) {
	href, target := "", "_blank"
	for _, a := range attrs {
		switch strings.ToLower(a.Key) {
		case "href":
			if safeHref(a.Val) {
				href = strings.TrimSpace(a.Val)
			}
		case "target":
			if a.Val == "_blank" || a.Val == "_self" {
				target = a.Val
			}
		}
	}
	b.WriteString("<a")
	if href != "" {
		b.WriteString(` href="` + html.EscapeString(href) + `"`)
	}
	b.WriteString(` target="` + target + `" rel="noopener noreferrer">`)
}

func safeHref(v string) bool {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Email trims and lowercases an address and reports whether it is syntactically valid.
func Email(in string) (string, bool) {
	addr := strings.ToLower(strings.TrimSpace(in))
	if len(addr) > 254 || !emailPattern.MatchString(addr) {
		return addr, false
	}
	return addr, true
}
