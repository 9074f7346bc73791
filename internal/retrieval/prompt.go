package retrieval

import (
	"slices"
	"strconv"
	"strings"

	"github.com/sage0/sage/internal/memory"
)

// historyWindow is how many recent turns reach the model.
const historyWindow = 3

const answerSystemPrompt = `You are a question-answering assistant. Ground every answer in the provided context, in this order of priority:

1. Factual grounding: base claims on the numbered knowledge entries. Cite each entry you use by its bracketed index, e.g. [0].
2. Personalization: use the remembered facts about the user where they are relevant.
3. Continuity: stay consistent with the recent conversation.

If the knowledge entries do not cover the question, say so instead of inventing an answer. If you learn a new durable fact about the user worth remembering, put it in memory_to_save; otherwise leave it empty. List the indices of every knowledge entry you relied on in chunk_indices.`

const planSystemPrompt = `You decompose a user question into retrieval queries for a vector search index. Produce 5 focused sub-queries that together cover the question from different angles, each optionally carrying a metadata filter when the question clearly restricts its scope (for example to a specific source). Also produce one memory_query phrased to recall personal facts about the user that would help answer.`

// buildAnswerPrompt renders recalled memories, the numbered knowledge
// list, and recent history into one user prompt. The knowledge numbering
// here is the indexing space the model's chunk_indices answer in, so the
// order of items must match the list returned to the caller.
func buildAnswerPrompt(query string, memories []memory.Memory, knowledge []RetrievedItem, history []Turn) string {
	var b strings.Builder

	if len(memories) > 0 {
		b.WriteString("What you remember about the user:\n")
		for _, m := range memories {
			b.WriteString("- (")
			b.WriteString(m.CreatedAt.Format("2006-01-02"))
			b.WriteString(") ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(knowledge) > 0 {
		b.WriteString("Knowledge base entries:\n")
		for i, item := range knowledge {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(i))
			b.WriteString("] ")
			b.WriteString(item.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if recent := lastTurns(history, historyWindow); len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range recent {
			b.WriteString(t.Role)
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// buildPlanPrompt renders the question and any caller-supplied context
// for the planner.
func buildPlanPrompt(query string, meta map[string]string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	if len(meta) > 0 {
		b.WriteString("\n\nRequest context:\n")
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(meta[k])
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lastTurns(history []Turn, n int) []Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
