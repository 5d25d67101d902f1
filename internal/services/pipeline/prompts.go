package pipeline

const structuredInstructions = `You are building a company profile from the public pages of its website.
Read every page and return JSON matching the schema:
- companyName: the company's trading name.
- tagline: one sentence describing what the company does.
- valueProps: three to six short value propositions, in the company's own framing.
- keyOfferings: the main products or services, each with a title and a one-sentence description.
- primaryIndustries: the industries the company sells into.
Only use facts present in the pages. Leave a field empty rather than guess.`

const overviewInstructions = `You are writing an analyst overview of a company from the public pages of its website.
Return JSON with a single field "overview": two to four paragraphs of plain prose covering
what the company sells, who it sells to and how it positions itself against alternatives.
Only use facts present in the pages.`

var structuredSchema = map[string]any{
    "type": "object",
    "properties": map[string]any{
        "companyName": map[string]any{"type": "string"},
        "tagline":     map[string]any{"type": "string"},
        "valueProps":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
        "keyOfferings": map[string]any{
            "type": "array",
            "items": map[string]any{
                "type": "object",
                "properties": map[string]any{
                    "title":       map[string]any{"type": "string"},
                    "description": map[string]any{"type": "string"},
                },
                "required": []string{"title", "description"},
            },
        },
        "primaryIndustries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
    },
    "required": []string{"companyName", "tagline", "valueProps", "keyOfferings", "primaryIndustries"},
}

var overviewSchema = map[string]any{
    "type": "object",
    "properties": map[string]any{
        "overview": map[string]any{"type": "string"},
    },
    "required": []string{"overview"},
}
