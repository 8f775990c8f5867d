package service

const (
	// NoAnswer is the sentinel returned whenever the assistant must not answer
	NoAnswer = "NO_ANSWER"

	relevanceSystemPrompt = `You are a strict grader for a support knowledge base.
Given a user question and numbered knowledge chunks, decide how confidently the chunks answer the question.
Only count a chunk as relevant if it directly answers the question. Topical similarity is not enough.
Respond with JSON only, no prose:
{"confidence": <number between 0 and 1>, "relevant_chunks": [<chunk numbers>], "reasoning": "<one sentence>"}`

	answerSystemPrompt = `You answer questions for an internal support channel using ONLY the knowledge provided below.
Rules:
- Do not infer, guess or add facts that are not stated in the knowledge.
- If the knowledge does not answer the question, reply with exactly: ` + NoAnswer + `
- Keep answers short and direct.`

	answerCaveatPrompt = `The knowledge only partially matches this question (confidence %.2f). Answer only the parts that are explicitly covered, otherwise reply with exactly: ` + NoAnswer

	extractionSystemPrompt = `You extract reusable support knowledge from chat transcripts.
Find questions that were asked and answered with a concrete, reusable answer.
Skip greetings, small talk, unanswered questions and anything specific to one person.
Respond with a JSON array only, no explanations:
[{"question": "...", "answer": "..."}]
Respond with [] when nothing qualifies.`

	duplicateSystemPrompt = `You decide whether a new question/answer pair duplicates existing knowledge.
Be extremely strict. If the new pair asks the same thing as any existing entry, even in different words, or its answer adds nothing material, it is a DUPLICATE.
When in doubt, answer DUPLICATE.
Reply with a single word: DUPLICATE or UNIQUE.`
)

// uncertaintyPhrases mark generated text that must be replaced by the sentinel
var uncertaintyPhrases = []string{
	"i don't know",
	"i'm not sure",
	"i cannot",
	"unable to",
	"no information",
	"not available",
}
