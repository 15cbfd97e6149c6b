package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
)

const (
	notionPageSize = 100
	maxBlockDepth  = 4
)

// NotionSource exports the pages of a Notion database as markdown.
type NotionSource struct {
	databases     notionapi.DatabaseService
	blocks        notionapi.BlockService
	databaseID    notionapi.DatabaseID
	titleProperty string
}

// NewNotionSource reads the database with an integration token. Page titles
// come from titleProperty, falling back to the database's title column.
func NewNotionSource(token, databaseID, titleProperty string) *NotionSource {
	client := notionapi.NewClient(notionapi.Token(token))
	return newNotionSource(client.Database, client.Block, databaseID, titleProperty)
}

func newNotionSource(db notionapi.DatabaseService, blocks notionapi.BlockService, databaseID, titleProperty string) *NotionSource {
	if titleProperty == "" {
		titleProperty = "Title"
	}
	return &NotionSource{
		databases:     db,
		blocks:        blocks,
		databaseID:    notionapi.DatabaseID(databaseID),
		titleProperty: titleProperty,
	}
}

// Documents queries every page of the database and renders its blocks.
func (n *NotionSource) Documents(ctx context.Context) ([]Document, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor
	for {
		resp, err := n.databases.Query(ctx, n.databaseID, &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    notionPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("notion query %s: %w", n.databaseID, err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	docs := make([]Document, 0, len(pages))
	for _, page := range pages {
		var b strings.Builder
		if err := n.render(ctx, &b, notionapi.BlockID(page.ID), 0); err != nil {
			return nil, fmt.Errorf("notion page %s: %w", page.ID, err)
		}
		docs = append(docs, Document{
			ID:    string(page.ID),
			Title: n.title(page),
			Text:  strings.TrimSpace(b.String()),
		})
	}
	return docs, nil
}

func (n *NotionSource) title(page notionapi.Page) string {
	if p, ok := page.Properties[n.titleProperty].(*notionapi.TitleProperty); ok {
		return plainText(p.Title)
	}
	for _, prop := range page.Properties {
		if p, ok := prop.(*notionapi.TitleProperty); ok {
			return plainText(p.Title)
		}
	}
	return ""
}

// render writes the children of id as markdown, descending into nested
// blocks up to maxBlockDepth.
func (n *NotionSource) render(ctx context.Context, b *strings.Builder, id notionapi.BlockID, depth int) error {
	var cursor notionapi.Cursor
	for {
		resp, err := n.blocks.GetChildren(ctx, id, &notionapi.Pagination{StartCursor: cursor, PageSize: notionPageSize})
		if err != nil {
			return err
		}
		for _, block := range resp.Results {
			if line, ok := markdownLine(block); ok {
				b.WriteString(strings.Repeat("  ", depth))
				b.WriteString(line)
				b.WriteString("\n")
			}
			if block.GetHasChildren() && depth+1 < maxBlockDepth {
				if err := n.render(ctx, b, block.GetID(), depth+1); err != nil {
					return err
				}
			}
		}
		if !resp.HasMore {
			return nil
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

// markdownLine renders the text of one block. Unsupported blocks report
// false.
func markdownLine(block notionapi.Block) (string, bool) {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return plainText(b.Paragraph.RichText), true
	case *notionapi.Heading1Block:
		return "# " + plainText(b.Heading1.RichText), true
	case *notionapi.Heading2Block:
		return "## " + plainText(b.Heading2.RichText), true
	case *notionapi.Heading3Block:
		return "### " + plainText(b.Heading3.RichText), true
	case *notionapi.BulletedListItemBlock:
		return "- " + plainText(b.BulletedListItem.RichText), true
	case *notionapi.NumberedListItemBlock:
		return "1. " + plainText(b.NumberedListItem.RichText), true
	case *notionapi.ToDoBlock:
		box := "[ ]"
		if b.ToDo.Checked {
			box = "[x]"
		}
		return "- " + box + " " + plainText(b.ToDo.RichText), true
	case *notionapi.QuoteBlock:
		return "> " + plainText(b.Quote.RichText), true
	case *notionapi.CalloutBlock:
		return "> " + plainText(b.Callout.RichText), true
	case *notionapi.ToggleBlock:
		return plainText(b.Toggle.RichText), true
	case *notionapi.CodeBlock:
		return "```" + b.Code.Language + "\n" + plainText(b.Code.RichText) + "\n```", true
	case *notionapi.DividerBlock:
		return "---", true
	}
	return "", false
}

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, t := range rt {
		b.WriteString(t.PlainText)
	}
	return b.String()
}
