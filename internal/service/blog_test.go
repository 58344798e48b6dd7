package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/vidtalker/internal/prompts"
)

// blogChat answers each blog prompt by its leading instruction.
func blogChat(outline string) *scriptedChat {
	return &scriptedChat{reply: func(_, user string) (string, error) {
		switch {
		case strings.HasPrefix(user, "Write a concise summary"):
			return "a short summary", nil
		case strings.HasPrefix(user, "Generate ONLY a title"):
			return "Sure, here is a title:\n\"Shipping Faster With Small Teams And Honest Retrospectives Every Week\"", nil
		case strings.HasPrefix(user, "Generate ONLY the headings"):
			return outline, nil
		case strings.HasPrefix(user, "Generate ONLY the section content"):
			return "Here is the section:\nBody text.", nil
		case strings.HasPrefix(user, "Generate ONLY the summary"):
			return strings.Repeat("word ", 150), nil
		}
		return "", nil
	}}
}

func newTestBlogGenerator(chat ChatModel, cfg BlogConfig) (*BlogGenerator, *int) {
	g := NewBlogGenerator(chat, ApproxTokenCounter{}, cfg)
	var mu sync.Mutex
	sleeps := 0
	g.sleep = func(context.Context, time.Duration) error {
		mu.Lock()
		sleeps++
		mu.Unlock()
		return nil
	}
	return g, &sleeps
}

func TestGenerateBlogPost(t *testing.T) {
	chat := blogChat("Outline:\n1. Introduction: Why Speed Matters\n2. The Bottleneck\n3. Small Batches")
	g, sleeps := newTestBlogGenerator(chat, BlogConfig{ChunkSize: 2000, ChunkOverlap: 200, SectionDelay: time.Second})

	post, err := g.Generate(context.Background(), "We talked about shipping software quickly.")
	require.NoError(t, err)

	title := strings.TrimPrefix(strings.SplitN(post, "\n", 2)[0], "# ")
	assert.LessOrEqual(t, runeLen(title), 60)
	assert.True(t, strings.HasPrefix(title, "Shipping Faster"), "title %q", title)
	assert.NotContains(t, title, "Sure")

	assert.Equal(t, 5, strings.Count(post, "### "))
	assert.Contains(t, post, "### Introduction: Why Speed Matters\nBody text.")
	assert.Contains(t, post, "### The Bottleneck\n")
	assert.Contains(t, post, "### Key Takeaways\n")
	assert.Contains(t, post, "### Conclusion\n")
	assert.NotContains(t, post, "Here is the section")

	_, after, ok := strings.Cut(post, "**Summary:**\n")
	require.True(t, ok)
	summary, _, _ := strings.Cut(after, "\n")
	assert.Len(t, strings.Fields(summary), 100)

	assert.True(t, strings.HasSuffix(post, prompts.CallToAction))
	assert.Equal(t, 4, *sleeps)
}

func TestGenerateBlogPostTruncatesLongOutline(t *testing.T) {
	chat := blogChat("1. One\n2. Two\n3. Three\n4. Four\n5. Five\n6. Six\n7. Seven")
	g, _ := newTestBlogGenerator(chat, BlogConfig{})

	post, err := g.Generate(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(post, "### "))
	assert.Contains(t, post, "### Five\n")
	assert.NotContains(t, post, "### Six")
}

func TestGenerateBlogPostCollapsesLongTranscripts(t *testing.T) {
	chat := blogChat("")
	g, _ := newTestBlogGenerator(chat, BlogConfig{ChunkSize: 200, ChunkOverlap: 20, TokenMax: 8, MapConcurrency: 4})

	text := strings.Repeat("the team discussed deployment pipelines and rollbacks. ", 40)
	chunks, err := g.splitter.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	_, err = g.Generate(context.Background(), text)
	require.NoError(t, err)

	// one map call per chunk, at least one collapse, then the final reduce
	assert.Greater(t, chat.promptsWith("CONCISE SUMMARY:"), len(chunks)+1)
}

func TestGenerateFromFileMissing(t *testing.T) {
	g, _ := newTestBlogGenerator(blogChat(""), BlogConfig{})

	out := g.GenerateFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Contains(t, out, "Error")
}

func TestGenerateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transcript":"a talk about testing","diarized_transcript":{"entries":[]}}`), 0644))
	chat := blogChat("")
	g, _ := newTestBlogGenerator(chat, BlogConfig{})

	out := g.GenerateFromFile(context.Background(), path)
	assert.True(t, strings.HasPrefix(out, "# "), out)
	assert.Equal(t, 1, chat.promptsWith("a talk about testing"))
}

func TestCleanSection(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sure, here is the section:\nBody", "Body"},
		{"Sure here's what you asked for:\n\nBody", "Body"},
		{"Here is the content:\nBody", "Body"},
		{"Here's a quick summary:\n\nBody", "Body"},
		{"Body stays as is.", "Body stays as is."},
		{"  Body  ", "Body"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanSection(tt.in), "CleanSection(%q)", tt.in)
	}
}

func TestParseOutlinePadsWithArc(t *testing.T) {
	assert.Equal(t, prompts.OutlineArc, parseOutline(""))
	assert.Equal(t,
		[]string{"Getting Started", "The Challenge", "The Solution", "Key Takeaways", "Conclusion"},
		parseOutline("- Getting Started"))
}
