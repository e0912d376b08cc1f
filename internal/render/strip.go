package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StripTags returns the text content of an HTML fragment. Script and style
// contents are dropped; entities are decoded.
func StripTags(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if a := tagAtom(z); a == atom.Script || a == atom.Style {
				skip++
			}
		case html.EndTagToken:
			if a := tagAtom(z); (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
		}
	}
}

func tagAtom(z *html.Tokenizer) atom.Atom {
	name, _ := z.TagName()
	return atom.Lookup(name)
}

// Alternatives splits a rendered body into its plain text and, when the body
// carried markup, the HTML alternative. A body without markup has no HTML part.
func Alternatives(body string) (plain, htmlPart string) {
	plain = StripTags(body)
	if plain != body {
		htmlPart = body
	}
	return plain, htmlPart
}
