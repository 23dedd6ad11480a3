package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// Article is a parsed document with its ordered chunks.
type Article struct {
	Document *model.Document
	Chunks   []*model.Chunk
}

// ReadArticle parses article metadata (articleId, title, year, journal, url,
// authors) and its chunks as JSON lines (chunkId, articleId, seq, text and an
// optional embedding). Every chunk must belong to the article, chunk ids must
// be unique and seq values must be unique and contiguous. Text is NFC
// normalised with non-breaking spaces replaced.
func ReadArticle(meta io.Reader, chunks io.Reader) (*Article, error) {
	document, err := readMeta(meta)
	if err != nil {
		return nil, err
	}

	article := &Article{Document: document}
	seenChunk := map[string]bool{}
	seenSeq := map[int]bool{}

	scanner := bufio.NewScanner(chunks)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			return nil, helper.NewError("read chunks", fmt.Errorf("line %d is not valid JSON", line))
		}

		chunk, err := parseChunk(gjson.Parse(text), document.ArticleID)
		if err != nil {
			return nil, helper.NewError("read chunks", fmt.Errorf("line %d: %w", line, err))
		}
		if seenChunk[chunk.ChunkID] {
			return nil, helper.NewError("read chunks", fmt.Errorf("line %d: duplicate chunk id %s", line, chunk.ChunkID))
		}
		if seenSeq[chunk.Seq] {
			return nil, helper.NewError("read chunks", fmt.Errorf("line %d: duplicate seq %d", line, chunk.Seq))
		}
		seenChunk[chunk.ChunkID] = true
		seenSeq[chunk.Seq] = true
		article.Chunks = append(article.Chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, helper.NewError("scan chunks", err)
	}

	sort.Slice(article.Chunks, func(i, j int) bool { return article.Chunks[i].Seq < article.Chunks[j].Seq })
	for i := 1; i < len(article.Chunks); i++ {
		if article.Chunks[i].Seq != article.Chunks[i-1].Seq+1 {
			return nil, helper.NewError("read chunks", fmt.Errorf("seq gap between %d and %d", article.Chunks[i-1].Seq, article.Chunks[i].Seq))
		}
	}

	return article, nil
}

func readMeta(r io.Reader) (*model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, helper.NewError("read meta", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, helper.NewError("read meta", fmt.Errorf("meta is not valid JSON"))
	}
	meta := gjson.ParseBytes(data)

	articleID := strings.TrimSpace(meta.Get("articleId").String())
	if articleID == "" {
		return nil, helper.NewError("read meta", fmt.Errorf("articleId is required"))
	}

	document := &model.Document{
		ArticleID: articleID,
		Title:     NormalizeText(meta.Get("title").String()),
		Year:      parseYear(meta.Get("year")),
		Venue:     meta.Get("journal").String(),
		SourceURL: meta.Get("url").String(),
		Metadata:  model.Metadata{},
	}
	if authors := meta.Get("authors"); authors.IsArray() {
		var names []interface{}
		for _, author := range authors.Array() {
			if name := author.Get("name").String(); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			document.Metadata["authors"] = names
		}
	}

	return document, nil
}

func parseChunk(row gjson.Result, articleID string) (*model.Chunk, error) {
	chunkID := strings.TrimSpace(row.Get("chunkId").String())
	if chunkID == "" {
		return nil, fmt.Errorf("chunkId is required")
	}
	if owner := row.Get("articleId").String(); owner != articleID {
		return nil, fmt.Errorf("chunk %s belongs to article %q, expected %q", chunkID, owner, articleID)
	}
	seq := row.Get("seq")
	if seq.Type != gjson.Number || seq.Num != float64(int(seq.Num)) {
		return nil, fmt.Errorf("chunk %s has no integer seq", chunkID)
	}
	text := NormalizeText(row.Get("text").String())
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("chunk %s has no text", chunkID)
	}

	chunk := &model.Chunk{
		ChunkID: chunkID,
		Seq:     int(seq.Num),
		Content: text,
	}
	if embedding := row.Get("embedding"); embedding.IsArray() {
		for _, v := range embedding.Array() {
			chunk.Embedding = append(chunk.Embedding, float32(v.Float()))
		}
	}
	return chunk, nil
}

func parseYear(value gjson.Result) *int {
	var year int
	switch value.Type {
	case gjson.Number:
		year = int(value.Int())
	case gjson.String:
		digits := strings.TrimSpace(value.String())
		if len(digits) > 4 {
			digits = digits[:4]
		}
		y, err := strconv.Atoi(digits)
		if err != nil {
			return nil
		}
		year = y
	default:
		return nil
	}
	return &year
}

// NormalizeText replaces non-breaking spaces and applies Unicode NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.ReplaceAll(s, "\u00a0", " "))
}

// ArticleStore persists documents and chunks.
type ArticleStore interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
	UpsertChunk(ctx context.Context, chunk *model.Chunk) error
	UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// LoadArticle upserts the document, then its chunks in seq order.
// Chunks carrying an embedding get it stored as well.
func LoadArticle(ctx context.Context, store ArticleStore, article *Article, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	if err := store.UpsertDocument(ctx, article.Document); err != nil {
		return helper.NewError("upsert document", err)
	}

	embedded := 0
	for _, chunk := range article.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk.DocumentID = article.Document.ID
		if err := store.UpsertChunk(ctx, chunk); err != nil {
			return helper.NewError(fmt.Sprintf("upsert chunk %s", chunk.ChunkID), err)
		}
		if len(chunk.Embedding) > 0 {
			if err := store.UpdateChunkEmbedding(ctx, chunk.ID, chunk.Embedding); err != nil {
				return helper.NewError(fmt.Sprintf("update embedding %s", chunk.ChunkID), err)
			}
			embedded++
		}
	}

	log.Info(
		"Article loaded",
		slog.String("article_id", article.Document.ArticleID),
		slog.Int("chunks", len(article.Chunks)),
		slog.Int("embedded", embedded),
	)

	return nil
}
