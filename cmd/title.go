// File: cmd/title.go
package cmd

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// pageTitle extracts the document title from serialized HTML.
func pageTitle(dom string) string {
	if dom == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(dom))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Title {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
