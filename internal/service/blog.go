package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/timmy/vidtalker/internal/logger"
	"github.com/timmy/vidtalker/internal/prompts"
	"golang.org/x/sync/errgroup"
)

const (
	maxTitleLength  = 60
	maxSummaryWords = 100
	maxCollapses    = 5
)

var (
	surePreamble = regexp.MustCompile(`(?i)^Sure,? (here( is|'s| are))?[^\n]*:?\s*`)
	herePreamble = regexp.MustCompile(`(?i)^Here( is|'s| are)?[^\n]*:?\s*`)
)

// BlogConfig controls chunking, summarization and pacing.
type BlogConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	TokenMax       int
	SectionDelay   time.Duration
	MapConcurrency int
}

// BlogGenerator turns a transcript into a markdown blog post.
type BlogGenerator struct {
	chat     ChatModel
	tokens   TokenCounter
	splitter *TextSplitter
	cfg      BlogConfig

	// sleep waits between section calls; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBlogGenerator creates a BlogGenerator.
func NewBlogGenerator(chat ChatModel, tokens TokenCounter, cfg BlogConfig) *BlogGenerator {
	if tokens == nil {
		tokens = ApproxTokenCounter{}
	}
	if cfg.TokenMax <= 0 {
		cfg.TokenMax = 3000
	}
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = 1
	}
	return &BlogGenerator{
		chat:     chat,
		tokens:   tokens,
		splitter: NewTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GenerateFromFile reads the top-level "transcript" field of a transcript
// file and generates a post. Failures are returned as strings starting
// with "Error:" so batch callers can print the result either way.
func (g *BlogGenerator) GenerateFromFile(ctx context.Context, path string) string {
	text, err := readTranscriptText(path)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Could not read transcript %s", path)
		return "Error: Could not read or find the transcript text."
	}

	post, err := g.Generate(ctx, text)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Blog generation failed")
		return fmt.Sprintf("Error: Blog generation failed: %v", err)
	}
	return post
}

func readTranscriptText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.Transcript) == "" {
		return "", fmt.Errorf("%s has no transcript text", path)
	}
	return doc.Transcript, nil
}

// Generate writes a blog post about text: a map-reduce summary first,
// then title, five sections, summary and a call-to-action footer.
func (g *BlogGenerator) Generate(ctx context.Context, text string) (string, error) {
	start := time.Now()

	chunks, err := g.splitter.Split(text)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("transcript text is empty")
	}
	logger.CtxInfo(ctx, "Summarizing transcript (%d chunks)", len(chunks))

	condensed, err := g.summarize(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	title, err := g.complete(ctx, prompts.TitlePrompt(condensed))
	if err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	title = cleanTitle(title)

	outline, err := g.complete(ctx, prompts.OutlinePrompt(condensed))
	if err != nil {
		return "", fmt.Errorf("outline: %w", err)
	}
	headings := parseOutline(outline)

	sections := make([]string, 0, len(headings))
	for i, heading := range headings {
		if i > 0 {
			if err := g.sleep(ctx, g.cfg.SectionDelay); err != nil {
				return "", err
			}
		}
		body, err := g.complete(ctx, prompts.SectionPrompt(heading, condensed))
		if err != nil {
			return "", fmt.Errorf("section %q: %w", heading, err)
		}
		sections = append(sections, fmt.Sprintf("### %s\n%s", heading, CleanSection(body)))
	}
	fullContent := strings.Join(sections, "\n\n")

	summary, err := g.complete(ctx, prompts.SummaryPrompt(fullContent))
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	summary = truncateWords(CleanSection(summary), maxSummaryWords)

	logger.With(logger.Fields{logger.FieldCount: len(chunks)}).
		WithDuration(start).Info(ctx, "Blog post generated")

	return fmt.Sprintf("# %s\n\n%s\n\n**Summary:**\n%s\n%s", title, fullContent, summary, prompts.CallToAction), nil
}

func (g *BlogGenerator) complete(ctx context.Context, prompt string) (string, error) {
	out, err := g.chat.Complete(ctx, prompts.BlogSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// summarize maps every chunk to a summary in parallel, collapses the
// summaries until they fit TokenMax, then reduces them to one.
func (g *BlogGenerator) summarize(ctx context.Context, chunks []string) (string, error) {
	summaries := make([]string, len(chunks))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MapConcurrency)
	for i, chunk := range chunks {
		eg.Go(func() error {
			s, err := g.complete(egctx, prompts.ChunkSummaryPrompt(chunk))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	for round := 0; round < maxCollapses && g.countAll(summaries) > g.cfg.TokenMax; round++ {
		groups := g.groupByTokens(summaries)
		if len(groups) == len(summaries) && round > 0 {
			break
		}
		collapsed := make([]string, len(groups))
		for i, group := range groups {
			s, err := g.complete(ctx, prompts.CombineSummaryPrompt(strings.Join(group, "\n\n")))
			if err != nil {
				return "", fmt.Errorf("collapse: %w", err)
			}
			collapsed[i] = s
		}
		summaries = collapsed
	}

	if len(summaries) == 1 && len(chunks) == 1 {
		return summaries[0], nil
	}
	return g.complete(ctx, prompts.CombineSummaryPrompt(strings.Join(summaries, "\n\n")))
}

func (g *BlogGenerator) countAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += g.tokens.CountTokens(t)
	}
	return total
}

// groupByTokens packs consecutive texts into groups of at most TokenMax tokens.
// A text larger than TokenMax forms its own group.
func (g *BlogGenerator) groupByTokens(texts []string) [][]string {
	var (
		groups  [][]string
		current []string
		size    int
	)
	for _, t := range texts {
		n := g.tokens.CountTokens(t)
		if len(current) > 0 && size+n > g.cfg.TokenMax {
			groups = append(groups, current)
			current, size = nil, 0
		}
		current = append(current, t)
		size += n
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// CleanSection strips a leading "Sure, here is..." or "Here is..." line.
func CleanSection(text string) string {
	text = surePreamble.ReplaceAllString(text, "")
	text = herePreamble.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func cleanTitle(raw string) string {
	title := CleanSection(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))
	title = strings.Trim(title, "\"'*# ")
	if runeLen(title) > maxTitleLength {
		title = truncateRunes(title, maxTitleLength)
	}
	return title
}

// parseOutline returns exactly five headings, padding with the fixed
// narrative arc when the model returns fewer.
func parseOutline(raw string) []string {
	var headings []string
	for _, line := range strings.Split(raw, "\n") {
		h := strings.Trim(strings.TrimSpace(line), "-•12345. \t*#")
		if h == "" || strings.HasSuffix(strings.ToLower(h), "outline:") {
			continue
		}
		headings = append(headings, h)
	}
	if len(headings) > len(prompts.OutlineArc) {
		headings = headings[:len(prompts.OutlineArc)]
	}
	for i := len(headings); i < len(prompts.OutlineArc); i++ {
		headings = append(headings, prompts.OutlineArc[i])
	}
	return headings
}

func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
