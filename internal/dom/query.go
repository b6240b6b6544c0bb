package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Query finds descendants of scope matching a CSS selector. An invalid
// selector matches nothing.
func (d *Document) Query(scope *html.Node, selector string) []*html.Node {
	if scope == nil {
		scope = d.root
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	return goquery.NewDocumentFromNode(scope).Find(selector).Nodes
}

// QueryFirst returns the first match of selector under scope
func (d *Document) QueryFirst(scope *html.Node, selector string) *html.Node {
	nodes := d.Query(scope, selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// ElementByID finds the element whose id attribute equals id
func (d *Document) ElementByID(id string) *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == id {
					found = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

// ElementsByTagName returns every element named tag, "*" for all
func (d *Document) ElementsByTagName(scope *html.Node, tag string) []*html.Node {
	tag = strings.ToLower(tag)
	if tag != "*" && strings.ContainsAny(tag, " >+~[]:.#,") {
		return nil
	}
	return d.Query(scope, tag)
}

// ElementsByClassName returns every element carrying all the given classes
func (d *Document) ElementsByClassName(scope *html.Node, classes string) []*html.Node {
	fields := strings.Fields(classes)
	if len(fields) == 0 {
		return nil
	}
	return d.Query(scope, "."+strings.Join(fields, "."))
}

// XPath evaluates an XPath expression against the document
func (d *Document) XPath(scope *html.Node, expr string) ([]*html.Node, error) {
	if scope == nil {
		scope = d.root
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes, err := htmlquery.QueryAll(scope, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// XPathText returns the inner text of the first XPath match
func (d *Document) XPathText(expr string) (string, error) {
	nodes, err := d.XPath(nil, expr)
	if err != nil || len(nodes) == 0 {
		return "", err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.InnerText(nodes[0]), nil
}
