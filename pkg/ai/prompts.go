package ai

const EntityNamePrompt = `
# Task Context
You are a helpful assistant specialized in recognizing named entities in search queries over a document knowledge graph.

# Background Data
Query: %s

# Detailed Task Description & Rules
- List every named entity the query mentions: organizations, people, places, products, documents, contracts, invoices, projects.
- Copy each name exactly as written in the query. Do not translate, expand or correct it.
- Keep identifiers that belong to a name (e.g., "Invoice #1256003", "Phase 2").
- Do not list generic nouns ("the contract", "payment terms") unless they are used as a name.
- If the query mentions no named entity, return an empty list.

# Output Formatting
Return a JSON object with a single field "names" holding the list of names.
`

const SectionSelectPrompt = `
# Task Context
You are a helpful assistant that picks the document sections most likely to answer a question.

# Background Data
Question: %s

Sections (index: heading path):
%s

# Detailed Task Description & Rules
- Select at most %d sections whose headings indicate they contain the answer or directly supporting facts.
- Prefer specific sections over broad parent sections when both apply.
- Only use indexes from the list above.
- If no section is relevant, return an empty list.

# Output Formatting
Return a JSON object with a single field "indexes" holding the selected section indexes.
`

const QueryPrompt = `
# Task Context
You are a helpful assistant that provides high-quality answers based only on evidence retrieved from a document knowledge graph.

# Background Data
The data is provided in the following format:

Relevant Entities:
<entity_id>: <score>

Evidence Passages:
[[<passage_id>]] <document_title> > <section_path>: <text>

Matched Themes:
<community_title>: <summary>

## Data
%s

# Detailed Task Description & Rules
- Do not add any information that is not present in the evidence passages.
- Derive answers from the passage text. Entities and themes only indicate what the question is about.
- Every factual statement must end with one or more passage IDs in the format [[id]].
- Never invent IDs. Only use passage IDs listed above.
- If passages contradict each other, present every version with its citation and state that they are contradictory.
- If the passages do not answer the question, respond with: "I don't know, but you can provide new sources with that information." in the language of the user.

# Output Formatting
- Return only the direct answer (no introduction or concluding summary).
- Format your answer in Markdown.
- Always respond in the same language as the question.
`

// NoDataMessage is returned verbatim when retrieval found no evidence at all.
const NoDataMessage = "There is no information available in the knowledge base for this question. You can provide new sources with that information."
