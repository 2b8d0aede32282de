package builder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphmill/graphmill/pkg/llm"
)

// tripleRecord is one extracted (subject, predicate, object) tuple with
// optional validity interval. Empty fields mean the model found nothing.
type tripleRecord struct {
	Subject      string `json:"subject"`
	SubjectLabel string `json:"subject_label"`
	Predicate    string `json:"predicate"`
	Object       string `json:"object"`
	ObjectLabel  string `json:"object_label"`
	TStart       string `json:"t_start"`
	TEnd         string `json:"t_end"`
}

type factTriples struct {
	Triples []tripleRecord `json:"triples"`
}

// TripleSchema is the structured-output contract for triple extraction
var TripleSchema = llm.Schema{
	Name: "fact_triples",
	Definition: json.RawMessage(`{
  "type": "object",
  "properties": {
    "triples": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "subject": {"type": "string"},
          "subject_label": {"type": "string"},
          "predicate": {"type": "string"},
          "object": {"type": "string"},
          "object_label": {"type": "string"},
          "t_start": {"type": "string"},
          "t_end": {"type": "string"}
        },
        "required": ["subject", "subject_label", "predicate", "object", "object_label", "t_start", "t_end"],
        "additionalProperties": false
      }
    }
  },
  "required": ["triples"],
  "additionalProperties": false
}`),
}

// extractionPrompt builds the triple-extraction system prompt. Entity
// names stay verbatim in source mode; relative time expressions resolve
// against the observation date.
func extractionPrompt(obsTimestamp, language, entityNameMode string) string {
	var b strings.Builder
	b.WriteString("# DIRECTIVES :\n")
	b.WriteString("- Act like an experienced knowledge graph builder.\n")
	b.WriteString("- Extract (subject, predicate, object) triples from the given atomic fact, with a coarse type label for each endpoint.\n")
	if entityNameMode == "source" {
		b.WriteString("- Keep proper nouns (people, organizations, terms) exactly as written in the source text: do not translate, transliterate, or rephrase them.\n")
	}
	if language != "" {
		fmt.Fprintf(&b, "- Write labels and predicates in language %q.\n", language)
	}
	b.WriteString("- Resolve relative time expressions against the observation_date into absolute dates; fill t_start / t_end only when the fact states them.\n")
	b.WriteString("- Do not add information the fact does not state. If you do not find the right information, keep its place empty.\n")
	fmt.Fprintf(&b, "\nobservation_date: %s\n", obsTimestamp)
	return b.String()
}
