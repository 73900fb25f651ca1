package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/session"
)

// handleExport renders a conversation transcript as markdown or HTML.
// GET /v1/conversations/{id}/export?format=markdown|html
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	if format != "markdown" && format != "html" {
		s.errorResponse(w, http.StatusBadRequest, "format must be markdown or html")
		return
	}

	turns, ok := s.loadTranscript(w, id, userID(r))
	if !ok {
		return
	}

	md := transcriptMarkdown(id, turns)

	if format == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, md)
		return
	}

	html, err := transcriptHTML(md)
	if err != nil {
		s.logger.Error("render export failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func transcriptMarkdown(conversationID int64, turns []session.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %d\n\n", conversationID)
	for _, t := range turns {
		label := "Assistant"
		if t.Role == session.RoleUser {
			label = "You"
		}
		fmt.Fprintf(&b, "**%s** (%s):\n\n%s\n\n", label, t.CreatedAt.Format("2006-01-02 15:04"), t.Content)
	}
	return b.String()
}

// transcriptHTML renders the markdown transcript into a standalone
// HTML document with no external resources.
func transcriptHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation export</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48em; margin: 2em auto;">
%s
</body></html>`, buf.String())

	return html, nil
}
