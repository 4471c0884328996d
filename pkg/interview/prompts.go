package interview

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/interviewflow/pkg/graph"
)

// ContextData is free-form interview context: persona, company and a
// question list. It usually arrives as participant metadata.
type ContextData map[string]any

const metadataType = "interview_context"

// ContextFromMetadata parses participant metadata. Anything that is not a
// JSON object with type "interview_context" yields nil.
func ContextFromMetadata(raw string) ContextData {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var data ContextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}
	if data.String("type", "") != metadataType {
		return nil
	}
	return data
}

// String reads a string field with a fallback for absent or empty values.
func (c ContextData) String(key, fallback string) string {
	if v, ok := c[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func (c ContextData) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Merge overlays other onto c and returns a new map.
func (c ContextData) Merge(other ContextData) ContextData {
	out := make(ContextData, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// BuildSystemPrompt renders the interviewer persona.
func BuildSystemPrompt(c ContextData) string {
	if len(c) == 0 {
		return "You are a voice interviewer. Your interface with users will be voice. " +
			"Use short and concise responses, and avoid unpronounceable punctuation."
	}
	company := c.String("company_name", "the company")
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s at %s. ",
		c.String("scout_name", "Interviewer"), c.String("scout_role", "Recruiter"), company)
	fmt.Fprintf(&b, "Your tone should be %s. You are conducting a job interview. ",
		c.String("scout_emotion", "Professional"))
	fmt.Fprintf(&b, "\n\nAbout %s: %s ", company, c.String("company_description", ""))
	fmt.Fprintf(&b, "\n\nCompany culture: %s ", c.String("company_culture", ""))
	b.WriteString("\n\nYour interface with users will be voice. Use short and concise responses, " +
		"avoiding usage of unpronounceable punctuation. Speak naturally as a human interviewer would.")
	if questions := c.Strings("interview_questions"); len(questions) > 0 {
		b.WriteString("\n\nYou should ask the following questions during the interview:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if extra := c.String("scout_prompt", ""); extra != "" {
		fmt.Fprintf(&b, "\n\nAdditional guidance: %s", extra)
	}
	return b.String()
}

// CreateGreeting returns the opening line.
func CreateGreeting(c ContextData) string {
	name := c.String("scout_name", "")
	if name == "" {
		return "Hello, thanks for joining this interview today. How are you doing?"
	}
	return fmt.Sprintf("Hello, I'm %s from %s. Thanks for joining this interview today. How are you doing?",
		name, c.String("company_name", "the company"))
}

const rubric = `[Evaluation Rubric]
Score 3 - Excellent: fully answers every part; gives concrete, role-relevant examples; concise
Score 2 - Adequate: addresses question but lacks examples
Score 1 - Weak: vague, generic, off-topic, or contradicts itself
Score 0 - No answer / "I don't know"`

const (
	closingLine   = "Thank you for your time. We'll be in touch shortly."
	repeatLine    = "Sorry, I missed that. Could you say it again?"
	followUpLine  = "Could you tell me a bit more about that?"
	greetFallback = " Are you ready to start the interview?"

	greetInstruction = "Introduce yourself, and ask the user if they are ready to start the interview. Open with: %q"

	decidingRole = "You are a transitioning agent. The next question is chosen from the conversation flow and the candidate's responses."

	endingRole = "Thank the candidate. Based on the chat history the session ended either because the interview " +
		"is complete or because the candidate decided to end it. Thank them for their time, and disconnect."

	closeInstruction = "End the interview, thank the candidate for their time, and call finish."
)

func askInstruction(n graph.Node) string {
	criteria := n.Criteria
	if criteria == "" {
		criteria = "none"
	}
	return fmt.Sprintf("Ask the applicant the following question: %s, with the following criteria: %s, "+
		"remember to stay friendly, and answer questions if you know the answer", n.Content, criteria)
}

func followUpInstruction(rationale string) string {
	if rationale == "" {
		rationale = "the answer was too weak"
	}
	return "Ask a follow-up question since the candidate's answer is not good enough. Dive deeper into their " +
		"response or the question. The rationale for the follow-up question is: " + rationale
}

func prematureInstruction(rationale string) string {
	return "The interview is ending early. Reason: " + rationale + ". Close politely and call finish."
}

func idleInstruction(attempt int) string {
	return fmt.Sprintf("This is attempt %d to check on the interviewee. If there has been no response from "+
		"the interviewee, ask them if they are still there.", attempt)
}

// branchPrompt enumerates candidates as a numbered list, starting at 1.
func branchPrompt(candidates []graph.Node) string {
	var b strings.Builder
	b.WriteString("Based on the conversation so far, which question should be asked next?\n")
	for i, n := range candidates {
		content := n.Content
		if content == "" {
			content = "(" + n.Type.String() + ")"
		}
		fmt.Fprintf(&b, "%d. %s", i+1, content)
		if n.Criteria != "" {
			fmt.Fprintf(&b, " (criteria: %s)", n.Criteria)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Reply with ONLY the number of the option.")
	return b.String()
}
