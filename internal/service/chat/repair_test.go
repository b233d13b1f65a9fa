package chat

import "testing"

func TestRepairBoundaryStripsDuplicateWord(t *testing.T) {
	got := RepairBoundary("The cat sat", " sat on the mat")
	if got != " on the mat" {
		t.Fatalf("RepairBoundary = %q", got)
	}
	if "The cat sat"+got != "The cat sat on the mat" {
		t.Fatalf("reconciled output wrong: %q", "The cat sat"+got)
	}
}

func TestRepairBoundarySpacedJoin(t *testing.T) {
	// Accumulated ends " word" and fragment begins "word ", so the word must
	// appear exactly once at the join.
	accumulated := "over the word"
	fragment := "word boundary"
	got := RepairBoundary(accumulated, fragment)
	if accumulated+got != "over the word boundary" {
		t.Fatalf("join = %q", accumulated+got)
	}
}

func TestRepairBoundaryLeavesDistinctWords(t *testing.T) {
	if got := RepairBoundary("The cat sat", " on the mat"); got != " on the mat" {
		t.Fatalf("distinct words altered: %q", got)
	}
}

func TestRepairBoundaryNoBoundaryShape(t *testing.T) {
	// Equal words but no whitespace boundary on either side: the fragment
	// continues the same word, so nothing may be stripped.
	if got := RepairBoundary("overl", "lapping"); got != "lapping" {
		t.Fatalf("mid-word fragment altered: %q", got)
	}
}

func TestRepairBoundaryEmptyInputs(t *testing.T) {
	if got := RepairBoundary("", "hello"); got != "hello" {
		t.Fatalf("empty accumulated altered fragment: %q", got)
	}
	if got := RepairBoundary("hello", ""); got != "" {
		t.Fatalf("empty fragment altered: %q", got)
	}
}

func TestRepairBoundaryCaseSensitive(t *testing.T) {
	if got := RepairBoundary("read the Book", " book now"); got != " book now" {
		t.Fatalf("case-differing words stripped: %q", got)
	}
}

func TestNormalizeContent(t *testing.T) {
	got := NormalizeContent("para one\n\n\n\npara two\n\n\nend   \n\n")
	want := "para one\n\npara two\n\nend"
	if got != want {
		t.Fatalf("NormalizeContent = %q, want %q", got, want)
	}
}

func TestNormalizeContentKeepsDoubleNewlines(t *testing.T) {
	if got := NormalizeContent("a\n\nb"); got != "a\n\nb" {
		t.Fatalf("double newline collapsed: %q", got)
	}
}
