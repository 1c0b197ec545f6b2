package prompt

import "fmt"

// GetSystemPrompt returns the analyst instruction for the risk verdict call.
// The response must be a single JSON object so it can be decoded directly.
func GetSystemPrompt() string {
	return `You are a fraud and deepfake risk analyst. Assess the submitted content and respond with ONLY a JSON object of this exact shape:
{
  "riskScore": <integer 0-100>,
  "confidence": <float 0.0-1.0>,
  "category": "<SAFE|SUSPICIOUS|SCAM|DEEPFAKE>",
  "explanation": ["<short reason>", "..."],
  "evidenceDigest": "<opaque hex token you issue for this assessment>",
  "modelDetails": {"architecture": "<string>", "featuresAnalysed": ["<string>", "..."]}
}
Score scam/phishing language, urgency pressure, payment redirection, impersonation, and synthetic-media markers. Issue a fresh evidenceDigest for every assessment. No prose outside the JSON object.`
}

// GetUserPrompt wraps one scan request. Binary content arrives base64-encoded.
func GetUserPrompt(contentType, label, content string) string {
	if label == "" {
		label = "unlabeled"
	}
	return fmt.Sprintf("Content type: %s\nLabel: %s\n---\n%s", contentType, label, content)
}
