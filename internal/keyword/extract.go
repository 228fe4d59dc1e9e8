package keyword

import (
	"bytes"
	"encoding/json"
	"mime"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hyperjump/nestelia/internal/cachekey"
	"github.com/hyperjump/nestelia/internal/models"
)

// PageFromResponse reduces a cached response to a searchable page. Only 200 HTML and
// JSON responses with some text produce a page.
func PageFromResponse(partition, key string, resp *models.CachedResponse) (*Page, bool) {
	if !resp.OK() || len(resp.Body) == 0 {
		return nil, false
	}
	mediaType, _, _ := mime.ParseMediaType(resp.ContentType())

	var title, content string
	switch {
	case mediaType == "text/html":
		title, content = extractHTML(resp.Body)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		title, content = extractJSON(resp.Body)
	default:
		return nil, false
	}
	if strings.TrimSpace(title+content) == "" {
		return nil, false
	}

	_, rawURL := cachekey.SplitKey(key)
	return &Page{
		ID:        cachekey.DocID(partition, key),
		URL:       rawURL,
		Partition: partition,
		Title:     title,
		Content:   content,
		StoredAt:  resp.StoredAt,
	}, true
}

// extractHTML returns the document title (or first h1) and the visible body text.
func extractHTML(body []byte) (title, content string) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var text strings.Builder
	var h1 strings.Builder
	skip := 0
	inTitle, inH1 := false, false

	for {
		switch z.Next() {
		case html.ErrorToken:
			title = strings.TrimSpace(title)
			if title == "" {
				title = strings.TrimSpace(h1.String())
			}
			return title, strings.TrimSpace(text.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				skip++
			case "title":
				inTitle = true
			case "h1":
				inH1 = h1.Len() == 0
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template":
				if skip > 0 {
					skip--
				}
			case "title":
				inTitle = false
			case "h1":
				inH1 = false
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				title += t
				continue
			}
			if inH1 {
				h1.WriteString(t)
			}
			text.WriteString(t)
			text.WriteByte(' ')
		}
	}
}

// extractJSON flattens every string value of a JSON document. The first "title" (or "name")
// string found becomes the title.
func extractJSON(body []byte) (title, content string) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", ""
	}
	var parts []string
	var walk func(key string, v any)
	walk = func(key string, v any) {
		switch x := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(k, x[k])
			}
		case []any:
			for _, e := range x {
				walk(key, e)
			}
		case string:
			s := strings.TrimSpace(x)
			if s == "" || isIdentifierKey(key) {
				return
			}
			if title == "" && (key == "title" || key == "name") {
				title = s
			}
			if looksLikeHTML(s) {
				_, s = extractHTML([]byte(s))
			}
			parts = append(parts, s)
		}
	}
	walk("", v)
	return title, strings.Join(parts, " ")
}

func isIdentifierKey(key string) bool {
	k := strings.ToLower(key)
	return k == "id" || strings.HasSuffix(k, "id") || strings.HasSuffix(k, "url") || k == "timestamp"
}

func looksLikeHTML(s string) bool {
	return strings.HasPrefix(s, "<") && strings.Contains(s, ">")
}
