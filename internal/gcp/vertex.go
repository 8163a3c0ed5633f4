package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Transcription Model Prompts ---
const TranscriberSystemPrompt = "You are an optical character recognition engine. You transcribe the text visible in scanned document images exactly as printed. You never summarize, translate, or comment."
const PageTranscriptionPrompt = `Transcribe all text in this page image.

Rules:
1. Preserve reading order: top to bottom, left to right, one output line per printed line.
2. Keep numbers, dates, and identifiers exactly as printed, including punctuation.
3. Do not add markdown, headings, or explanations.
4. If the page contains no text, return an empty response.`
const ZoneTranscriptionPrompt = `This image is a small region cropped from a scanned document. It usually holds a single field value such as an invoice number, a date, or a name.

Return only the text in the image on a single line, exactly as printed. Return an empty response if there is no text.`

// VertexClient holds the generative model used for text recognition.
type VertexClient struct {
	TranscriberModel *genai.GenerativeModel
	baseClient       *genai.Client
}

// NewVertexClient creates a client with the transcription model configured
// for deterministic output.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	transcriber := baseClient.GenerativeModel(modelName)
	transcriber.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	transcriber.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	transcriber.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		TranscriberModel: transcriber,
		baseClient:       baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
