package extract

import (
	"fmt"
	"strings"
)

// DefaultEntityTypes is the closed set an extraction may label nodes with.
// Anything else the model invents is rewritten to "Other".
var DefaultEntityTypes = []string{
	"Person", "Organization", "Location", "Event",
	"Product", "Technology", "Concept", "Date", "Other",
}

const extractionPromptTemplate = `You are a knowledge graph extraction system.
Extract entities and the relationships between them from the text below.

Rules:
- Entity types must be one of: %s
- Use the exact surface form of each entity as its name.
- Every edge's source and target must be the name of an extracted entity.
- Relationship types are short lowercase snake_case verbs, e.g. "works_at",
  "located_in", "founded_by".
- Confidence is your certainty in [0,1] that the fact is stated in the text.
- Only extract facts stated in the text. Do not use outside knowledge.
- If the text contains no extractable entities, return empty lists.

Text:
"""
%s
"""`

func extractionPrompt(types []string, text string) string {
	return fmt.Sprintf(extractionPromptTemplate, strings.Join(types, ", "), text)
}

const repairPromptTemplate = `%s

Your previous response was rejected: %s
Return a corrected response that conforms to the schema.`

func repairPrompt(base, reason string) string {
	return fmt.Sprintf(repairPromptTemplate, base, reason)
}

const validationPromptTemplate = `You are verifying candidate facts extracted from a text.
For each numbered statement, score in [0,1] how well the source text supports it.
1.0 means the text states it directly, 0.0 means the text does not support it.
Return one score per statement, in order.

Source text:
"""
%s
"""

Statements:
%s`

func validationPrompt(chunkText string, statements []string) string {
	var b strings.Builder
	for i, s := range statements {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return fmt.Sprintf(validationPromptTemplate, chunkText, b.String())
}
