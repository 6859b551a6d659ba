package ingest

import (
	"strings"

	"github.com/sanonone/lacuna/pkg/overview"
)

// ParseText builds a Document from free-form text. The first non-empty
// line is the title (markdown heading markers stripped); the lines right
// after it may carry "Key: value" front matter (id, assignee, assignee-id,
// date, cpc); everything else is the abstract. The caller bounds the
// abstract and fills a missing id.
func ParseText(text string) Document {
	var doc Document
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i < len(lines) {
		title := strings.TrimSpace(lines[i])
		for strings.HasPrefix(title, "#") {
			title = title[1:]
		}
		doc.Title = strings.TrimSpace(title)
		i++
	}

	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	for i < len(lines) {
		key, value, ok := headerLine(lines[i])
		if !ok {
			break
		}
		switch key {
		case "id", "publication":
			doc.ID = value
		case "assignee":
			doc.Assignee = value
		case "assignee-id", "assignee_id":
			doc.AssigneeID = value
		case "date", "published":
			doc.Date = value
		case "cpc", "classification":
			doc.CPCCodes = overview.SplitCPCList(value)
		}
		i++
	}

	doc.Abstract = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	return doc
}

// headerLine recognizes one front-matter line. Unknown keys end the block,
// so body sentences containing a colon stay in the abstract.
func headerLine(line string) (key, value string, ok bool) {
	k, v, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return "", "", false
	}
	switch key = strings.ToLower(strings.TrimSpace(k)); key {
	case "id", "publication", "assignee", "assignee-id", "assignee_id",
		"date", "published", "cpc", "classification":
		return key, strings.TrimSpace(v), true
	}
	return "", "", false
}
