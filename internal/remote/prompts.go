package remote

import (
	"fmt"

	"github.com/hitoshi/clarus/internal/model"
)

// analysisEnvelope は分析応答として要求するJSONの形。
const analysisEnvelope = `MANDATORY JSON FORMAT - Return ONLY this exact structure:
{
  "summary": "Your detailed analysis of the content's scientific accuracy in plain text format without any markdown or special formatting. Explain what claims were made and how the research supports or contradicts them.",
  "accuracy": "accurate|partially-accurate|inaccurate",
  "confidence": 85,
  "sources": [
    {
      "title": "Exact title of the research paper as published",
      "url": "Direct working URL to the research paper (DOI, PubMed, ArXiv, journal website)",
      "authors": "Author names and affiliations",
      "journal": "Journal name, volume, issue, pages, year",
      "summary": "What this study found and its methodology in 1-2 sentences",
      "evidence": "Specifically how this research supports or contradicts the analyzed content in 1-2 sentences, with a relevant quote from the paper."
    }
  ]
}

STRICT REQUIREMENTS:
- Return ONLY the JSON object, nothing else
- Find AT LEAST 3 research papers for every analysis
- Use only peer-reviewed sources from reputable journals
- Include working URLs to actual papers (DOI links, PubMed URLs, ArXiv links)
- NO markdown formatting anywhere in the JSON
- Make accuracy assessment based on scientific consensus from the sources you find
- If you cannot find enough sources, indicate lower confidence and partial accuracy`

// analysisSystemTemplate の %s には役割説明と最初の要件が入る。
const analysisSystemTemplate = `You are a scientific fact-checker with access to current research databases%s. Your job is to %s and find REAL, ACCESSIBLE peer-reviewed research papers that support or contradict the claims.

CRITICAL REQUIREMENTS:
1. %s
2. Find at least 3-5 REAL research papers from PubMed, ArXiv, DOI links, or major scientific journals.
3. Each paper MUST have a working URL that leads directly to the research.
4. Provide detailed analysis of how each paper relates to the content's claims, with relevant quotes.
5. Be thorough in your scientific assessment but strict about accuracy.

` + analysisEnvelope

const chatSystemPrompt = `You are a helpful AI assistant specialized in scientific research and analysis. Provide accurate, evidence-based information and help users understand complex scientific concepts.

When a user asks a question, provide a conversational answer and support it with 2-4 peer-reviewed research papers.

RESPONSE FORMAT - Return ONLY valid JSON:
{
  "message": "Your conversational, helpful response to the user's query. This is the text that will be displayed in the chat.",
  "sources": [
    {
      "title": "Complete research paper title exactly as published",
      "url": "Direct URL to the actual research paper (ArXiv, DOI, PubMed, journal website)",
      "summary": "A brief, one-sentence summary of the paper's relevance to the user's question."
    }
  ]
}

IMPORTANT:
- Always return a valid JSON object.
- If you cannot find relevant sources, return an empty "sources" array.
- The "message" should be a friendly, conversational response.
- Do not include bracketed citations like [1], [2] in the "message" field. All sources should be in the "sources" array.
- Access URLs and social media posts if provided by the user to understand the context.`

type promptSpec struct {
	tools      string
	task       string
	firstStep  string
	userPrefix string
}

var analysisPrompts = map[model.ContentType]promptSpec{
	model.ContentTypeURL: {
		tools:      " and web scraping tools",
		task:       "scrape the provided URL, analyze its content,",
		firstStep:  "Scrape the content at the provided URL.",
		userPrefix: "Scrape and analyze the content at this URL for scientific accuracy using only peer-reviewed research: ",
	},
	model.ContentTypeText: {
		task:       "analyze the provided text",
		firstStep:  "Analyze the provided text.",
		userPrefix: "Analyze this text for scientific accuracy using only peer-reviewed research: ",
	},
	model.ContentTypePDF: {
		task:       "analyze the content of a PDF document (the user will provide the title or summary)",
		firstStep:  "Analyze the provided PDF title/summary.",
		userPrefix: "Analyze the content of this PDF (title or summary provided) for scientific accuracy using only peer-reviewed research: ",
	},
	model.ContentTypeYouTube: {
		tools:      " and video transcripts",
		task:       "analyze the claims made in the provided YouTube video",
		firstStep:  "Review the video at the provided URL and identify its scientific claims.",
		userPrefix: "Analyze the claims in this YouTube video for scientific accuracy using only peer-reviewed research: ",
	},
}

// genericPrompt は未知の種別に使う。
var genericPrompt = promptSpec{
	task:      "analyze the provided text",
	firstStep: "Analyze the provided text.",
}

// analysisPrompt は種別ごとのシステムプロンプトとユーザープロンプトを返す。
func analysisPrompt(text string, contentType model.ContentType) (system, user string) {
	tmpl, ok := analysisPrompts[contentType]
	if !ok {
		tmpl = genericPrompt
	}
	system = fmt.Sprintf(analysisSystemTemplate, tmpl.tools, tmpl.task, tmpl.firstStep)
	return system, tmpl.userPrefix + text
}
