package processor

import (
	"regexp"
	"strings"
)

var relevanceKeywords = []string{"openai", "verification", "verify", "confirm"}

// Order matters: the first pattern with any match decides the code.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{6}\b`),
	regexp.MustCompile(`\b\d{4}\b`),
	regexp.MustCompile(`\b[A-Z]{2,4}\d{3,6}\b`),
}

// ExtractCode classifies a message by subject and body and pulls the
// verification code out of the body. It returns nil when either input is
// empty or the message does not look like a verification email at all.
func ExtractCode(subject, body string) *VerificationResult {
	if subject == "" || body == "" {
		return nil
	}
	if !isRelevant(subject, body) {
		return nil
	}

	code := findCode(body)
	res := &VerificationResult{Code: code, Classification: ClassificationNoCode}
	if code != "" {
		res.Classification = ClassificationHasCode
	}
	return res
}

func isRelevant(subject, body string) bool {
	s, b := strings.ToLower(subject), strings.ToLower(body)
	for _, kw := range relevanceKeywords {
		if strings.Contains(s, kw) || strings.Contains(b, kw) {
			return true
		}
	}
	return false
}

func findCode(body string) string {
	for _, re := range codePatterns {
		if m := re.FindString(body); m != "" {
			return m
		}
	}
	return ""
}
