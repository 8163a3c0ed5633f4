package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/hotfolderflow/internal/gcp"
)

// VertexEngine transcribes page images with a Gemini model. It reports no
// line boxes, so archival text layers fall back to page-level placement.
type VertexEngine struct {
	client *gcp.VertexClient
}

func NewVertexEngine(client *gcp.VertexClient) *VertexEngine {
	return &VertexEngine{client: client}
}

func (e *VertexEngine) Name() string { return "vertex" }

func (e *VertexEngine) Recognize(ctx context.Context, img image.Image, hint Hint) (Result, error) {
	data, err := encodePNG(img)
	if err != nil {
		return Result{}, err
	}
	prompt := gcp.PageTranscriptionPrompt
	if hint.SingleBlock {
		prompt = gcp.ZoneTranscriptionPrompt
	}
	if hint.Language != "" {
		prompt += fmt.Sprintf("\n\nThe expected document language is %q (Tesseract language code).", hint.Language)
	}
	resp, err := e.client.TranscriberModel.GenerateContent(ctx, genai.ImageData("png", data), genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("gemini transcription: %w", err)
	}
	return Result{Text: strings.TrimSpace(responseText(resp))}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
