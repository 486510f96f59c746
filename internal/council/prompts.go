// internal/council/prompts.go
package council

import (
	"fmt"
	"strings"

	"council/internal/models"
)

// Anonymized labels keep stage-2 rankers from favoring their own vendor.
func labelFor(i int) string {
	return fmt.Sprintf("Response %c", 'A'+i)
}

const rankingHeader = "FINAL RANKING:"

func stage2Prompt(userQuery string, stage1 []models.Result) (string, map[string]string) {
	labelToModel := make(map[string]string, len(stage1))

	var responses strings.Builder
	for i, r := range stage1 {
		label := labelFor(i)
		labelToModel[label] = r.Model
		fmt.Fprintf(&responses, "%s:\n%s\n\n", label, r.Content)
	}

	prompt := fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s
Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "%s" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Now provide your evaluation and ranking:`, userQuery, responses.String(), rankingHeader)

	return prompt, labelToModel
}

func stage3Prompt(userQuery string, stage1 []models.Result, stage2 []models.Result, labelToModel map[string]string) string {
	var stage1Text strings.Builder
	modelToLabel := make(map[string]string, len(labelToModel))
	for label, model := range labelToModel {
		modelToLabel[model] = label
	}
	for i, r := range stage1 {
		label := modelToLabel[r.Model]
		if label == "" {
			label = labelFor(i)
		}
		fmt.Fprintf(&stage1Text, "%s (%s):\n%s\n\n", label, r.Model, r.Content)
	}

	rankingsBlock := ""
	if len(stage2) > 0 {
		var b strings.Builder
		b.WriteString("STAGE 2 - Peer Rankings:\n")
		for _, r := range stage2 {
			fmt.Fprintf(&b, "Ranking by %s:\n%s\n\n", r.Model, r.Content)
		}
		rankingsBlock = b.String()
	}

	return fmt.Sprintf(`You are the Chairman of an LLM council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s
%s
Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality (if available)
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, userQuery, stage1Text.String(), rankingsBlock)
}

func titlePrompt(content string) string {
	return fmt.Sprintf(`Generate a very short title (3-6 words) summarizing the topic of this message. Reply with the title only, no quotes, no punctuation at the end.

Message: %s`, truncateRunes(content, 2000))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
