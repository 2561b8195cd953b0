package hsaj

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to CandidateStatus
		ok       bool
	}{
		{StatusPlanned, StatusQuarantined, true},
		{StatusPlanned, StatusRestored, true},
		{StatusQuarantined, StatusRestored, true},
		{StatusRestored, StatusPlanned, true},
		{StatusQuarantined, StatusPlanned, false},
		{StatusRestored, StatusQuarantined, false},
		{StatusPlanned, StatusPlanned, false},
		{CandidateStatus(0), StatusPlanned, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("Transition() error = %v", err)
				}
				if got != tt.to {
					t.Errorf("Transition() = %v, want %v", got, tt.to)
				}
				return
			}

			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.From != tt.from || te.To != tt.to {
				t.Errorf("Transition() error = %#v", err)
			}
			if got != tt.from {
				t.Errorf("Transition() = %v on failure, want unchanged %v", got, tt.from)
			}
		})
	}
}

func TestParseCandidateStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseCandidateStatus(s.String())
		if err != nil {
			t.Fatalf("ParseCandidateStatus(%q) error = %v", s, err)
		}
		if got != s || !got.Valid() {
			t.Errorf("ParseCandidateStatus(%q) = %v", s, got)
		}
	}

	if _, err := ParseCandidateStatus("deleted"); err == nil {
		t.Error("ParseCandidateStatus(deleted) expected error")
	}
	if CandidateStatus(0).Valid() {
		t.Error("zero status must not be valid")
	}
}
