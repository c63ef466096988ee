package metrics

import (
	"testing"

	"github.com/djlord-it/easy-post/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		kind domain.FailureKind
		want string
	}{
		{"", OutcomeSuccess},
		{domain.FailureCredentialsMissing, "credentials_missing"},
		{domain.FailureTransport, "transport_error"},
		{domain.FailurePlatformRejected, "platform_rejected"},
		{domain.FailureUnsupportedOperation, "unsupported_operation"},
		{domain.FailureKind("mystery"), "other_error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Outcome(tt.kind); got != tt.want {
				t.Errorf("Outcome(%q) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestFailureOutcomes_CoverEveryFailureLabel(t *testing.T) {
	kinds := []domain.FailureKind{
		domain.FailureCredentialsMissing,
		domain.FailureTransport,
		domain.FailurePlatformRejected,
		domain.FailureUnsupportedOperation,
		domain.FailureKind("mystery"),
	}
	listed := make(map[string]bool, len(FailureOutcomes))
	for _, o := range FailureOutcomes {
		listed[o] = true
	}
	for _, k := range kinds {
		if label := Outcome(k); !listed[label] {
			t.Errorf("Outcome(%q) = %q is missing from FailureOutcomes", k, label)
		}
	}
	if listed[OutcomeSuccess] {
		t.Error("FailureOutcomes must not contain the success label")
	}
}
