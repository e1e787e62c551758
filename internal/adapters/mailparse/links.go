package mailparse

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/mikey/llm-phish-filter/internal/core"
	"golang.org/x/net/html"
)

var bareURLPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// ExtractLinks collects anchors from the HTML part and bare URLs from the text
// part. A URL already seen in an anchor is not repeated.
func ExtractLinks(htmlBody, textBody string) []core.Link {
	var links []core.Link
	seen := make(map[string]bool)

	if htmlBody != "" {
		if doc, err := html.Parse(strings.NewReader(htmlBody)); err == nil {
			walkAnchors(doc, func(href, text string) {
				links = append(links, newLink(href, text))
				seen[href] = true
			})
		}
	}

	for _, raw := range bareURLPattern.FindAllString(textBody, -1) {
		raw = strings.TrimRight(raw, ".,;:!?")
		if seen[raw] {
			continue
		}
		seen[raw] = true
		links = append(links, newLink(raw, raw))
	}

	return links
}

func walkAnchors(n *html.Node, fn func(href, text string)) {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, attr := range n.Attr {
			if strings.EqualFold(attr.Key, "href") && strings.TrimSpace(attr.Val) != "" {
				fn(strings.TrimSpace(attr.Val), strings.TrimSpace(nodeText(n)))
				break
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkAnchors(c, fn)
	}
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func newLink(rawURL, text string) core.Link {
	link := core.Link{URL: rawURL, Text: text}
	if u, err := url.Parse(rawURL); err == nil {
		link.Domain = strings.ToLower(u.Hostname())
	}
	return link
}
