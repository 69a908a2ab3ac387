// Package contracts holds the fixed prompt text and tagged-output parsing
// helpers shared by every LLM turn in the pipeline: the wrapper format every
// call must obey, the per-stage instructions, and the `<tag>` extractor used
// to pull the payload out of a model's reply before it is JSON-decoded.
package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GlobalFormat is prepended to every LLM call's instructions. It fixes the
// wrapper-tag discipline models must follow so replies can be parsed without
// post-processing.
const GlobalFormat = `You are an API-facing language model.
Your responses are consumed programmatically: after the caller strips the wrapper tags, the payload inside the answer tag must be ready for direct JSON decoding or plain text use without further cleaning.

1. Produce exactly one cot block followed immediately by exactly one answer block (or summary/report/eval block where the contract calls for it).
2. The cot block contains a brief chain-of-thought.
3. Nothing, not even whitespace, may appear before the first tag or after the last closing tag.
4. Never emit Markdown fences, backticks, or language hints such as json.
5. Do not escape quotation marks inside JSON beyond normal JSON requirements.
6. Must be valid JSON where JSON is required: double-quoted keys/strings, no comments, no trailing commas, lower-case true/false.
7. Do not nest wrapper tags inside JSON values.

Reaffirm in your cot that your answer will be valid JSON where JSON is required.`

// Search is the IR agent's SEARCH_CALL contract: asks for up to 2 BM25 query
// groups (up to 4 queries each) plus a semantic rerank master query per group.
const Search = `Given the following question and context relative to a topic document, return a JSON object of BM25-optimized keyword queries and a master query for semantic rerank. You may return up to 2 [queries, master_query] pairs in your "searches" array, and up to 4 queries per pair (not including the master query). The content of your answer tag must be valid JSON.

You must answer with the following format. Do not forget to close any tags or brackets.
<cot> Brief chain-of-thought, reaffirm that your answer will be valid JSON </cot>
<answer>
{
  "searches": [
    {
      "queries": ["query1", "query2"],
      "master_query": "master_query"
    }
  ]
}
</answer>`

// Select is the SELECT_CALL contract: given search-result metadata, choose
// the most promising segments for further exploration.
const Select = `Given the previous questions, topic context, and the search result metadata, choose the most promising sources to answer the question. Select up to 6 segment_ids for further exploration. Your answer must be valid JSON.

You must answer with the following format:
<cot> Brief chain-of-thought, reaffirm that your answer will be valid JSON </cot>
<answer>
{
  "selections": ["segment_id1", "segment_id2"]
}
</answer>
Make sure to use commas to separate the segment_ids and close all brackets.`

// Update is the UPDATE_CALL contract: given new search results, update the
// structured per-question answer status.
const Update = `You are an information retrieval assistant updating an answer to a question. Given the previous context and the search results below, update your answer status. Do not remove any existing citations, but you may add new ones. Immediately upon marking a question finished it will be removed from the next round. Since this is a fact-checking assignment, the document context is any relevant information from the document being fact-checked that you may need. Do not cite anything other than a segment id; leave the citations array blank if none exist.

You must answer with the following format:
<cot> Brief chain-of-thought, reaffirm that your answer will be valid JSON </cot>
<answer>
{
  "questions": [
    {
      "question": "<verbatim question>",
      "doc_context": "<verbatim doc context>",
      "answer": {
        "text": "<text>",
        "citations": [
          {"summary": "<summary of info used>", "citation": "<segment_id>"}
        ]
      },
      "finished": true
    }
  ],
  "rounds": [
    {
      "summary": "<brief summary of the round and queries that did not yield results>",
      "seen_ids": ["segment_id1", "segment_id2"]
    }
  ]
}
</answer>`

// Final is the FINAL_CALL contract, issued once an agent exhausts its round
// budget without finishing every question.
const Final = `You have exceeded the number of rounds available. Give a brief description of what you attempted, what worked, what didn't, and any additional information that would be required.

You must answer with the following format:
<cot> Brief chain-of-thought </cot>
<summary> Your summary </summary>`

// ExtractTag returns the trimmed content between the first <tag>...</tag>
// pair in text, or "" if the tag is not present. Mirrors the forgiving
// substring-based extractor the IR agent's original implementation used,
// rather than a strict XML parser, since models are not guaranteed to emit
// well-formed XML.
func ExtractTag(text, tag string) string {
	open, close := "<"+tag+">", "</"+tag+">"
	i := strings.Index(text, open)
	if i < 0 {
		return ""
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

// DecodeTag extracts tag from text and JSON-decodes it into v. It returns an
// error naming the tag when extraction or decoding fails, so callers can
// fall back to a raw-text recovery path without losing the cause.
func DecodeTag(text, tag string, v any) error {
	payload := ExtractTag(text, tag)
	if payload == "" {
		return fmt.Errorf("contracts: tag %q not found in response", tag)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("contracts: tag %q did not contain valid JSON: %w", tag, err)
	}
	return nil
}
