package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesKind(t *testing.T) {
	base := errors.New("stream reset")
	err := Wrap(base, KindTranscriptionBackend)

	if KindOf(err) != KindTranscriptionBackend {
		t.Fatalf("KindOf() = %q, want %q", KindOf(err), KindTranscriptionBackend)
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error should unwrap to the base error")
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	err := New(KindFinalizationTimeout, "no final within window")
	rewrapped := Wrap(err, KindTranscriptionBackend)

	if KindOf(rewrapped) != KindFinalizationTimeout {
		t.Fatalf("KindOf() = %q, want original %q", KindOf(rewrapped), KindFinalizationTimeout)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil, KindInvalidInput) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("synthesize: %w", New(KindSynthesisFailed, "empty payload"))
	if !Has(err, KindSynthesisFailed) {
		t.Fatalf("kind should survive %%w wrapping, got %q", KindOf(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should classify as unknown")
	}
}
