package util

import "testing"

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	out := SanitizeText(in)
	if out != "abcd\n\txy" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestNormalizeMarkdown(t *testing.T) {
	in := "# Title\r\n\r\n\r\n\r\nTrans-\nformers are   \nuseful.\x00"
	out := NormalizeMarkdown(in)
	want := "# Title\n\nTransformers are\nuseful."
	if out != want {
		t.Fatalf("unexpected normalized output: %q", out)
	}
}

func TestNormalizeMarkdownIsIdempotent(t *testing.T) {
	in := "## A\n\n\nbody  \n"
	once := NormalizeMarkdown(in)
	if NormalizeMarkdown(once) != once {
		t.Fatalf("normalize not idempotent: %q", once)
	}
}
