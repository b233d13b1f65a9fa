package chat

import "testing"

func TestExtractTitleDirective(t *testing.T) {
	title, rest, ok := ExtractTitleDirective("Title: Dragons of the North\nOnce upon a time...")
	if !ok {
		t.Fatal("directive not recognized")
	}
	if title != "Dragons of the North" {
		t.Fatalf("title = %q", title)
	}
	if rest != "Once upon a time..." {
		t.Fatalf("remainder = %q", rest)
	}
}

func TestExtractTitleDirectiveCaseInsensitive(t *testing.T) {
	title, _, ok := ExtractTitleDirective("TITLE: Loud Header\nbody")
	if !ok || title != "Loud Header" {
		t.Fatalf("got %q ok=%v", title, ok)
	}
}

func TestExtractTitleDirectiveStripsQuotes(t *testing.T) {
	title, _, ok := ExtractTitleDirective(`Title: "Quoted Name"` + "\nbody")
	if !ok || title != "Quoted Name" {
		t.Fatalf("got %q ok=%v", title, ok)
	}
}

func TestExtractTitleDirectiveOnlyLine(t *testing.T) {
	title, rest, ok := ExtractTitleDirective("Title: Just This")
	if !ok || title != "Just This" {
		t.Fatalf("got %q ok=%v", title, ok)
	}
	if rest != "" {
		t.Fatalf("remainder = %q", rest)
	}
}

func TestExtractTitleDirectiveAbsent(t *testing.T) {
	_, rest, ok := ExtractTitleDirective("Once upon a time there was a title: not this")
	if ok {
		t.Fatal("false positive directive")
	}
	if rest != "Once upon a time there was a title: not this" {
		t.Fatalf("content altered: %q", rest)
	}
}

func TestExtractTitleDirectiveEmptyName(t *testing.T) {
	if _, _, ok := ExtractTitleDirective("Title:  \nbody"); ok {
		t.Fatal("empty title accepted")
	}
}
