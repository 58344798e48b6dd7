package prompts

import "fmt"

// ============================================================================
// RAG Answering
// ============================================================================

// Fixed answers the answering engine emits verbatim.
const (
	NoMatchAnswer = "I could not find relevant information in the transcript."
	RefusalAnswer = "I cannot answer this question based on the provided transcript."
)

// RAGSystemPrompt restricts the model to the retrieved context and asks for
// bracketed citations matching the "Context [i]" labels.
const RAGSystemPrompt = `You are a helpful assistant who answers questions based on the provided video transcript context.
- Answer the question directly using only the information from the CONTEXT below.
- Cite the context you are using by referencing its number, like ` + "`[0]`, `[1]`" + `, etc.
- If the context does not contain the answer, state "` + RefusalAnswer + `"`

// RAGUserPrompt builds the user message from the joined context blocks and the question.
func RAGUserPrompt(context, question string) string {
	return fmt.Sprintf("CONTEXT:\n%s\n\nQUESTION:\n%s", context, question)
}

// ============================================================================
// Blog Generation
// ============================================================================

// BlogSystemPrompt is shared by every blog generation call.
const BlogSystemPrompt = "You are a professional blog writer. Generate ONLY the requested content, no explanations or options."

// OutlineArc is the fixed narrative arc of a generated post.
var OutlineArc = []string{
	"Introduction",
	"The Challenge",
	"The Solution",
	"Key Takeaways",
	"Conclusion",
}

// ChunkSummaryPrompt is the map step over a single transcript chunk.
func ChunkSummaryPrompt(text string) string {
	return fmt.Sprintf("Write a concise summary of the following:\n\n\"%s\"\n\nCONCISE SUMMARY:", text)
}

// CombineSummaryPrompt is the reduce step over joined chunk summaries.
func CombineSummaryPrompt(summaries string) string {
	return fmt.Sprintf("Write a concise summary of the following:\n\n\"%s\"\n\nCONCISE SUMMARY:", summaries)
}

// TitlePrompt asks for a single title line.
func TitlePrompt(context string) string {
	return "Generate ONLY a title, no explanations or options. " +
		"Create a clear, engaging blog title that captures the main value. " +
		"Focus on the key benefit or solution. " +
		"Keep it under 60 characters.\n\n" + context + "\n\nTitle:"
}

// OutlinePrompt asks for five headings following OutlineArc.
func OutlinePrompt(context string) string {
	return "Generate ONLY the headings, no explanations or options. " +
		"Create 5 clear headings that tell a story:\n" +
		"1. Introduction (hook and context)\n" +
		"2. The Challenge (what's the problem)\n" +
		"3. The Solution (how to solve it)\n" +
		"4. Key Takeaways (main points to remember)\n" +
		"5. Conclusion (what's next)\n\n" +
		"Keep headings clear and direct.\n\n" + context + "\n\nOutline:"
}

// SectionPrompt asks for the body of one heading.
func SectionPrompt(heading, context string) string {
	return "Generate ONLY the section content, no explanations or options. " +
		"Keep it clear and practical. " +
		"Use simple examples where helpful. " +
		"Aim for 2-3 paragraphs.\n\n" +
		"Heading: " + heading + "\n\n" +
		"Context:\n" + context + "\n\nSection:"
}

// SummaryPrompt asks for a short closing summary.
func SummaryPrompt(content string) string {
	return "Generate ONLY the summary, no explanations or options. " +
		"Write a brief 100-word summary that captures the main points. " +
		"Keep it simple and actionable.\n\n" +
		"Content:\n\n" + content + "\n\nSummary:"
}

// CallToAction is appended to every generated post.
const CallToAction = "\n\n---\n\n" +
	"## Ready to Learn More?\n\n" +
	"1. Share this article with your network\n" +
	"2. Leave a comment with your thoughts\n" +
	"3. Subscribe for more insights"
