package prompts

import (
	"fmt"
	"strings"

	"arxivchat/internal/models"
)

const questionsSchema = `Output STRICT JSON with this schema and nothing else:
{"questions": ["string", "string"]}`

// PaperSystem is the system message describing the paper under discussion.
func PaperSystem(p models.Paper) string {
	b := strings.Builder{}
	b.WriteString("You are a research assistant helping a reader understand one arXiv paper. ")
	b.WriteString("Answer from the paper excerpts when they are relevant and say so when they are not.\n\n")
	b.WriteString("Paper: " + nonEmpty(p.Title, p.PaperID) + "\n")
	if len(p.Authors) > 0 {
		b.WriteString("Authors: " + strings.Join(p.Authors, ", ") + "\n")
	}
	if p.PublishedAt != nil {
		b.WriteString("Published: " + p.PublishedAt.Format("2006-01-02") + "\n")
	}
	if len(p.Categories) > 0 {
		b.WriteString("Categories: " + strings.Join(p.Categories, ", ") + "\n")
	}
	if strings.TrimSpace(p.Abstract) != "" {
		b.WriteString("Abstract: " + strings.TrimSpace(p.Abstract) + "\n")
	}
	return b.String()
}

// ChatQuestion wraps the user's query with the conversation so far. Chunks
// travel separately as request context.
func ChatQuestion(history []models.ConversationTurn, query string, degraded bool) string {
	b := strings.Builder{}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		b.WriteString(FormatHistory(history))
		b.WriteString("\n")
	}
	if degraded {
		b.WriteString("No paper excerpts are available for this question. Answer from the paper metadata and general knowledge, and say that the full text could not be consulted.\n\n")
	} else {
		b.WriteString("Cite excerpts as [C1], [C2] and so on.\n\n")
	}
	b.WriteString("User question: " + query)
	return b.String()
}

// FormatHistory renders turns as ROLE: content lines.
func FormatHistory(turns []models.ConversationTurn) string {
	b := strings.Builder{}
	for _, t := range turns {
		b.WriteString(strings.ToUpper(t.Role) + ": " + t.Content + "\n")
	}
	return b.String()
}

// FormatChunks labels retrieved chunks C1..Cn in rank order.
func FormatChunks(chunks []models.ChunkResult) []string {
	out := make([]string, 0, len(chunks))
	for i, c := range chunks {
		label := fmt.Sprintf("[C%d]", i+1)
		if c.Section != "" {
			label += " (" + c.Section + ")"
		}
		out = append(out, label+" "+c.ChunkText)
	}
	return out
}

func FollowUps(history []models.ConversationTurn, lastAnswer string, n int) string {
	return fmt.Sprintf(`Based on this conversation:
%s
And the last response:
%s

Generate exactly %d follow-up questions the reader could ask next to dig deeper into the paper.
%s`, FormatHistory(history), lastAnswer, n, questionsSchema)
}

func InsightQuestions(p models.Paper, n int) string {
	return fmt.Sprintf(`Given this research paper abstract:
%s

Generate exactly %d deep-dive questions about the paper's content. Each question must be answerable from the full text.
%s`, strings.TrimSpace(p.Abstract), n, questionsSchema)
}

func InsightAnswer(question string) string {
	return "Using only the excerpts from the paper, answer this question in 2-3 sentences: " + question
}

func InsightSummary(p models.Paper, answered []models.InsightQuestion) string {
	b := strings.Builder{}
	b.WriteString("Based on the following information about a research paper:\n\nAbstract:\n")
	b.WriteString(strings.TrimSpace(p.Abstract))
	b.WriteString("\n\nDeep analysis:\n")
	for _, q := range answered {
		b.WriteString(fmt.Sprintf("Question %d: %s\nAnswer: %s\n\n", q.Index+1, q.Question, q.Answer))
	}
	b.WriteString("Provide a comprehensive analysis of the paper as bullet points. Make each bullet a complete, informative statement that draws on both the abstract and the analysis. Focus on technical details that are not obvious from the abstract alone.")
	return b.String()
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
