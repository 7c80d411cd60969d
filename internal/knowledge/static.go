package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	defaultMaxResults = 4
	previewRunes      = 200

	noResultAnswer = "No relevant information found."
)

// Document 是静态知识库中的一条资料。
type Document struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	Collection string         `json:"collection,omitempty"`
	Keywords   []string       `json:"keywords"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Synthesizer 用检索到的资料生成回答，llm.Provider 满足该接口。
type Synthesizer interface {
	Completion(ctx context.Context, prompt string) (string, error)
}

// StaticRetriever 通过加载 JSON 文件提供关键词检索能力。
type StaticRetriever struct {
	documents   []Document
	maxResults  int
	synthesizer Synthesizer
}

// Option 定制 StaticRetriever。
type Option func(*StaticRetriever)

// WithMaxResults 设置 K 未指定时的返回上限。
func WithMaxResults(n int) Option {
	return func(r *StaticRetriever) {
		if n > 0 {
			r.maxResults = n
		}
	}
}

// WithSynthesizer 启用基于大模型的回答合成。
func WithSynthesizer(s Synthesizer) Option {
	return func(r *StaticRetriever) {
		r.synthesizer = s
	}
}

// NewStaticRetriever 创建静态知识库实例。
func NewStaticRetriever(documents []Document, opts ...Option) *StaticRetriever {
	r := &StaticRetriever{
		documents:  documents,
		maxResults: defaultMaxResults,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadStaticRetriever 从 JSON 文件加载知识条目。
func LoadStaticRetriever(path string, opts ...Option) (*StaticRetriever, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Document
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = fmt.Sprintf("doc-%d", i+1)
		}
		if entries[i].Source == "" {
			entries[i].Source = filepath.Base(absPath)
		}
	}

	return NewStaticRetriever(entries, opts...), nil
}

// Len 返回知识条目数量。
func (r *StaticRetriever) Len() int {
	return len(r.documents)
}

// Query 按关键词、标签与词重合度对资料打分，返回得分最高的 K 条。
func (r *StaticRetriever) Query(ctx context.Context, q Query) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := q.K
	if k <= 0 {
		k = r.maxResults
	}
	question := strings.ToLower(strings.TrimSpace(q.Question))

	type scored struct {
		doc   Document
		score int
	}
	hits := make([]scored, 0)
	for _, doc := range r.documents {
		if q.Collection != "" && doc.Collection != "" && doc.Collection != q.Collection {
			continue
		}
		if score := relevance(doc, question); score > 0 {
			hits = append(hits, scored{doc: doc, score: score})
		}
	}
	if len(hits) == 0 {
		return &Answer{Answer: noResultAnswer, Sources: []Source{}}, nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	docs := make([]Document, len(hits))
	for i, hit := range hits {
		docs[i] = hit.doc
	}
	answer := &Answer{
		Answer:      joinContents(docs),
		Sources:     []Source{},
		ContextUsed: true,
		NumSources:  len(docs),
	}
	if q.IncludeSources {
		for _, doc := range docs {
			answer.Sources = append(answer.Sources, Source{
				ChunkID:        doc.ID,
				Source:         doc.Source,
				Metadata:       doc.Metadata,
				ContentPreview: preview(doc.Content),
			})
		}
	}

	if r.synthesizer != nil {
		text, err := r.synthesizer.Completion(ctx, synthesisPrompt(q.Question, answer.Answer))
		if err != nil {
			return nil, fmt.Errorf("合成检索回答失败: %w", err)
		}
		answer.Answer = strings.TrimSpace(text)
	}
	return answer, nil
}

// relevance 关键词或标签命中计 2 分，标题与正文中每个重合的词计 1 分。
func relevance(doc Document, question string) int {
	if question == "" {
		return 0
	}
	score := 0
	for _, term := range append(append([]string(nil), doc.Keywords...), doc.Tags...) {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized != "" && strings.Contains(question, normalized) {
			score += 2
		}
	}
	words := make(map[string]struct{})
	for _, word := range strings.Fields(question) {
		words[strings.Trim(word, ".,;:!?\"'()")] = struct{}{}
	}
	delete(words, "")
	for stop := range stopWords {
		delete(words, stop)
	}
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(doc.Title + " " + doc.Content)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if _, ok := words[word]; !ok {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		score++
	}
	return score
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "and": {}, "or": {}, "what": {}, "how": {}, "with": {},
}

func joinContents(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Title != "" {
			parts = append(parts, doc.Title+": "+doc.Content)
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, "\n\n")
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "..."
}

func synthesisPrompt(question, passages string) string {
	return "Use the following pieces of context to answer the question. If the context does not contain the answer, say that you don't know.\n\n" +
		"Context:\n" + passages + "\n\nQuestion: " + question + "\nAnswer:"
}

// Ensure StaticRetriever 实现 Retriever 接口。
var _ Retriever = (*StaticRetriever)(nil)
