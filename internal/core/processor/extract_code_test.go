package processor_test

import (
	"testing"

	"github.com/aculclasure/coderelay/internal/core/processor"
	"github.com/google/go-cmp/cmp"
)

func TestExtractCode(t *testing.T) {
	t.Parallel()
	testCases := map[string]struct {
		subject string
		body    string
		want    *processor.VerificationResult
	}{
		"Empty subject returns nil": {
			subject: "",
			body:    "Your verification code is 123456",
			want:    nil,
		},
		"Empty body returns nil": {
			subject: "OpenAI Verification",
			body:    "",
			want:    nil,
		},
		"Message without keywords returns nil even when it contains a code": {
			subject: "Welcome",
			body:    "Your order number is 123456",
			want:    nil,
		},
		"Keyword match is case-insensitive": {
			subject: "Please VERIFY your account",
			body:    "Code: 654321",
			want:    &processor.VerificationResult{Code: "654321", Classification: processor.ClassificationHasCode},
		},
		"Keyword in body only classifies the message": {
			subject: "Hello",
			body:    "Use 987654 to confirm your sign in",
			want:    &processor.VerificationResult{Code: "987654", Classification: processor.ClassificationHasCode},
		},
		"Single six digit code is returned": {
			subject: "OpenAI Verification",
			body:    "Your code is 482913. Expires soon.",
			want:    &processor.VerificationResult{Code: "482913", Classification: processor.ClassificationHasCode},
		},
		"Six digit run wins over an earlier four digit run": {
			subject: "verify",
			body:    "Ref 1234, code 998877",
			want:    &processor.VerificationResult{Code: "998877", Classification: processor.ClassificationHasCode},
		},
		"Four digit run wins over an alphanumeric code": {
			subject: "confirm",
			body:    "Token AB1234 or PIN 5678",
			want:    &processor.VerificationResult{Code: "5678", Classification: processor.ClassificationHasCode},
		},
		"Alphanumeric code is used when there are no digit runs": {
			subject: "OpenAI",
			body:    "Enter XYZ98765 to continue",
			want:    &processor.VerificationResult{Code: "XYZ98765", Classification: processor.ClassificationHasCode},
		},
		"Longer digit runs are not codes": {
			subject: "verification",
			body:    "Call 12345678 for help",
			want:    &processor.VerificationResult{Code: "", Classification: processor.ClassificationNoCode},
		},
		"Relevant message without code is classified as no code": {
			subject: "Confirm your email",
			body:    "Click the link below to continue.",
			want:    &processor.VerificationResult{Code: "", Classification: processor.ClassificationNoCode},
		},
		"First occurrence of the winning pattern is returned": {
			subject: "verification",
			body:    "111111 then 222222",
			want:    &processor.VerificationResult{Code: "111111", Classification: processor.ClassificationHasCode},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got := processor.ExtractCode(tc.subject, tc.body)
			if !cmp.Equal(tc.want, got) {
				t.Error(cmp.Diff(tc.want, got))
			}
		})
	}
}

func TestExtractCodeIsIdempotent(t *testing.T) {
	t.Parallel()
	subject, body := "OpenAI Verification", "Codes: 4821, AB123, 733733"
	first := processor.ExtractCode(subject, body)
	second := processor.ExtractCode(subject, body)
	if !cmp.Equal(first, second) {
		t.Error(cmp.Diff(first, second))
	}
}

func TestExtractCodeClassificationMatchesCodePresence(t *testing.T) {
	t.Parallel()
	bodies := []string{
		"verify 123456",
		"verify 1234",
		"verify AB1234",
		"verify nothing here",
		"verify 12 345 67",
	}
	for _, body := range bodies {
		res := processor.ExtractCode("subject", body)
		if res == nil {
			t.Fatalf("ExtractCode(%q) returned nil for a relevant message", body)
		}
		hasCode := res.Classification == processor.ClassificationHasCode
		if hasCode != (res.Code != "") {
			t.Errorf("ExtractCode(%q) = %+v: classification disagrees with code", body, res)
		}
	}
}
