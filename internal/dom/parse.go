package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Script is an inline script found while parsing markup
type Script struct {
	Source string
	Index  int
}

// ParseResult describes what a Parse call added to the document
type ParseResult struct {
	Charset  string
	Elements int
	Scripts  []Script
}

var sanitizer = bluemonday.UGCPolicy()

// Parse parses a markup fragment and appends its head and body content to
// the document. Inline scripts are returned in document order for the
// caller to evaluate.
func (d *Document) Parse(data []byte) (*ParseResult, error) {
	if d.config.MaxHTMLSize > 0 && len(data) > d.config.MaxHTMLSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrInputTooLong, len(data), d.config.MaxHTMLSize)
	}

	reader, detected := decode(data)
	if d.config.Sanitize {
		raw, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read markup: %w", err)
		}
		reader = bytes.NewReader(sanitizer.SanitizeBytes(raw))
	}

	parsed, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}

	result := &ParseResult{Charset: detected}
	parsed.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external || !isScriptType(s.AttrOr("type", "")) {
			return
		}
		result.Scripts = append(result.Scripts, Script{Source: s.Text(), Index: i})
	})
	result.Elements = parsed.Find("body *").Length() + parsed.Find("head *").Length()

	d.mu.Lock()
	defer d.mu.Unlock()

	adopt(d.head, parsed.Find("head").Nodes)
	adopt(d.body, parsed.Find("body").Nodes)
	d.changes = append(d.changes, Change{
		Type:     "parse_html",
		Target:   "#document",
		Property: "elements",
		Value:    result.Elements,
	})

	return result, nil
}

// adopt moves the children of every source node under target
func adopt(target *html.Node, sources []*html.Node) {
	for _, src := range sources {
		for c := src.FirstChild; c != nil; {
			next := c.NextSibling
			src.RemoveChild(c)
			target.AppendChild(c)
			c = next
		}
	}
}

// decode converts markup to UTF-8, detecting the charset when the input is
// not already valid UTF-8
func decode(data []byte) (io.Reader, string) {
	if utf8.Valid(data) {
		return bytes.NewReader(data), "utf-8"
	}

	label := "windows-1252"
	detector := chardet.NewTextDetector()
	if result, err := detector.DetectBest(data); err == nil && result != nil {
		label = strings.ToLower(result.Charset)
	}

	reader, err := charset.NewReaderLabel(label, bytes.NewReader(data))
	if err != nil {
		return bytes.NewReader(data), "utf-8"
	}
	return reader, label
}

func isScriptType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text/javascript", "application/javascript", "application/ecmascript", "text/ecmascript":
		return true
	default:
		return false
	}
}
