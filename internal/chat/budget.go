package chat

import (
	"arxivchat/internal/models"
	"arxivchat/internal/prompts"
	"arxivchat/internal/providers"
)

// buildRequest assembles the answer request and trims it to budget
// characters: the lowest-ranked chunks go first, then the oldest turns. The
// question itself is never cut. It returns the history and chunks that made
// it into the request.
func buildRequest(paper models.Paper, history []models.ConversationTurn, chunks []models.ChunkResult, query string, degraded bool, budget int) (providers.GenerateRequest, []models.ConversationTurn, []models.ChunkResult) {
	system := prompts.PaperSystem(paper)
	for {
		req := providers.GenerateRequest{
			Operation: providers.OpChatAnswer,
			System:    system,
			Prompt:    prompts.ChatQuestion(history, query, degraded || len(chunks) == 0),
			Context:   prompts.FormatChunks(chunks),
			Format:    providers.FormatText,
		}
		if budget <= 0 || requestSize(req) <= budget {
			return req, history, chunks
		}
		switch {
		case len(chunks) > 0:
			chunks = chunks[:len(chunks)-1]
		case len(history) > 0:
			history = history[1:]
		default:
			return req, history, chunks
		}
	}
}

func requestSize(req providers.GenerateRequest) int {
	n := len(req.System) + len(req.Prompt)
	for _, c := range req.Context {
		n += len(c)
	}
	return n
}
