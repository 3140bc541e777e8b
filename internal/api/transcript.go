package api

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	"github.com/xxflyingknife/devspace/internal/store"
)

// markdown renders assistant output, which the models write in
// markdown.
var markdown = goldmark.New()

const transcriptPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 8px; }
.user { background: #eef3fb; }
.assistant { background: #f6f6f6; }
.tool { color: #666; font-size: 0.85rem; font-family: monospace; }
.tool.error { color: #a33; }
h1 { font-size: 1.2rem; }
</style>
</head>
<body>
<h1>%s</h1>
%s
</body>
</html>
`

// transcriptLimit caps how many entries one page renders.
const transcriptLimit = 500

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.store.List(r.Context(), id, transcriptLimit, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body strings.Builder
	for _, e := range entries {
		renderEntry(&body, e)
	}

	title := html.EscapeString(conv.Name)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, transcriptPage, title, title, body.String())
}

func renderEntry(body *strings.Builder, e store.Entry) {
	switch e.Role {
	case store.RoleUser:
		fmt.Fprintf(body, `<div class="turn user"><p>%s</p></div>`+"\n",
			html.EscapeString(e.Content))
	case store.RoleAssistant:
		body.WriteString(`<div class="turn assistant">`)
		var rendered strings.Builder
		if err := markdown.Convert([]byte(e.Content), &rendered); err != nil {
			fmt.Fprintf(body, "<p>%s</p>", html.EscapeString(e.Content))
		} else {
			body.WriteString(rendered.String())
		}
		body.WriteString("</div>\n")
	case store.RoleToolRequest:
		if e.Metadata != nil {
			fmt.Fprintf(body, `<div class="tool">&rarr; %s %s</div>`+"\n",
				html.EscapeString(e.Metadata.Tool),
				html.EscapeString(e.Metadata.Arguments))
		}
	case store.RoleToolResult:
		class := "tool"
		if e.Metadata != nil && e.Metadata.Status == store.StatusError {
			class = "tool error"
		}
		fmt.Fprintf(body, `<div class="%s">&larr; %s</div>`+"\n",
			class, html.EscapeString(truncate(e.Content, 300)))
	}
}

// truncate shortens s to at most n bytes, backing up to a rune
// boundary so the cut never produces invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
