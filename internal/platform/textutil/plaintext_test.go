package textutil

import (
	"reflect"
	"testing"
)

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"  Jane   Doe ":               "Jane Doe",
		"<b>Bold</b> move":            "Bold move",
		"<script>alert(1)</script>Hi": "Hi",
		"Fish &amp; Chips":            "Fish & Chips",
		"":                            "",
		"line\nbreak":                 "line break",
	}
	for input, want := range cases {
		if got := PlainText(input); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOptionalPlainText(t *testing.T) {
	if OptionalPlainText(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	blank := " <i></i> "
	if OptionalPlainText(&blank) != nil {
		t.Fatalf("expected nil for value that cleans to empty")
	}
	value := " 1-2-3 <em>Shibuya</em> "
	got := OptionalPlainText(&value)
	if got == nil || *got != "1-2-3 Shibuya" {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestPlainTextMap(t *testing.T) {
	t.Run("cleans strings and drops empty keys", func(t *testing.T) {
		input := map[string]any{
			" reason ": " <b>damaged</b> ",
			"units":    3,
			" ":        "ignored",
		}
		expected := map[string]any{
			"reason": "damaged",
			"units":  3,
		}
		if actual := PlainTextMap(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if PlainTextMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if PlainTextMap(map[string]any{"": "x"}) != nil {
			t.Fatalf("expected nil when every key is empty")
		}
	})
}
