package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// markdown is the shared renderer; strikethrough is the one extension
// Telegram can represent.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// telegramHTML renders markdown into the HTML subset Telegram's Bot API
// accepts: <b>, <i>, <u>, <s>, <code>, <pre>, <a href>, <blockquote>.
// Block structure is approximated with newlines and list markers;
// unsupported tags are dropped. A renderer failure falls back to the
// escaped input so the notification is never lost.
func telegramHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return flattenHTML(buf.String())
}

// listFrame tracks one open list during the walk.
type listFrame struct {
	ordered bool
	index   int
}

// flattener rewrites goldmark output tag by tag.
type flattener struct {
	out   strings.Builder
	lists []listFrame
	pre   bool
}

func flattenHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var f flattener
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			// The tokenizer hands text back unescaped; restore the
			// entities or Telegram sees stray markup.
			f.out.WriteString(html.EscapeString(tok.Data))
		case html.StartTagToken, html.SelfClosingTagToken:
			f.open(tok)
		case html.EndTagToken:
			f.close(tok.Data)
		}
	}
	return f.strip()
}

func (f *flattener) open(tok html.Token) {
	switch tok.Data {
	case "b", "strong":
		f.out.WriteString("<b>")
	case "i", "em":
		f.out.WriteString("<i>")
	case "u", "ins":
		f.out.WriteString("<u>")
	case "s", "strike", "del":
		f.out.WriteString("<s>")
	case "code":
		if !f.pre {
			f.out.WriteString("<code>")
		}
	case "pre":
		f.pre = true
		f.out.WriteString("<pre>")
	case "a":
		if href := attr(tok, "href"); href != "" {
			fmt.Fprintf(&f.out, `<a href="%s">`, html.EscapeString(href))
		} else {
			f.out.WriteString("<a>")
		}
	case "blockquote":
		f.out.WriteString("<blockquote>")
	case "br":
		f.out.WriteString("\n")
	case "ul":
		f.lists = append(f.lists, listFrame{})
	case "ol":
		f.lists = append(f.lists, listFrame{ordered: true})
	case "li":
		f.bullet()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		f.out.WriteString("<b>")
	case "hr":
		f.out.WriteString("\n──────────\n")
	}
	// Paragraphs and anything unrecognized emit nothing on open.
}

// bullet writes the marker for the next list item.
func (f *flattener) bullet() {
	if n := len(f.lists); n > 0 && f.lists[n-1].ordered {
		f.lists[n-1].index++
		fmt.Fprintf(&f.out, "\n%d. ", f.lists[n-1].index)
		return
	}
	f.out.WriteString("\n• ")
}

func (f *flattener) close(tag string) {
	switch tag {
	case "b", "strong":
		f.out.WriteString("</b>")
	case "i", "em":
		f.out.WriteString("</i>")
	case "u", "ins":
		f.out.WriteString("</u>")
	case "s", "strike", "del":
		f.out.WriteString("</s>")
	case "code":
		if !f.pre {
			f.out.WriteString("</code>")
		}
	case "pre":
		f.pre = false
		f.out.WriteString("</pre>")
	case "a":
		f.out.WriteString("</a>")
	case "blockquote":
		f.out.WriteString("</blockquote>")
	case "p":
		f.out.WriteString("\n\n")
	case "ul", "ol":
		if n := len(f.lists); n > 0 {
			f.lists = f.lists[:n-1]
		}
		f.out.WriteString("\n")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		f.out.WriteString("</b>\n\n")
	}
}

// strip trims the walk output and collapses runs of blank lines.
func (f *flattener) strip() string {
	s := strings.TrimSpace(f.out.String())
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
