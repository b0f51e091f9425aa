package channel

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_FitsInOne(t *testing.T) {
	for _, text := range []string{"", "hello", strings.Repeat("x", 4096)} {
		got := SplitMessage(text, 4096)
		if len(got) != 1 || got[0] != text {
			t.Errorf("SplitMessage(len %d) = %d chunks, want the text itself", len(text), len(got))
		}
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	text := strings.Repeat("a", 9000)
	got := SplitMessage(text, 4096)

	want := []int{4096, 4096, 808}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i, n := range want {
		if len(got[i]) != n {
			t.Errorf("chunk %d: len %d, want %d", i, len(got[i]), n)
		}
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	text := strings.Repeat("a", 4050) + "\n" + strings.Repeat("b", 949)
	got := SplitMessage(text, 4096)

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if len(got[0]) != 4051 || !strings.HasSuffix(got[0], "\n") {
		t.Errorf("first chunk should end right after the newline, len=%d", len(got[0]))
	}
}

func TestSplitMessage_FallsBackToSpace(t *testing.T) {
	// Newline too far back to count, space inside the window.
	text := "intro\n" + strings.Repeat("a", 3994) + " " + strings.Repeat("b", 500)
	got := SplitMessage(text, 4096)

	if !strings.HasSuffix(got[0], " ") {
		t.Errorf("first chunk should end at the space, got suffix %q", got[0][len(got[0])-3:])
	}
	if len(got[0]) != 4001 {
		t.Errorf("first chunk len %d, want 4001", len(got[0]))
	}
}

func TestSplitMessage_IgnoresBoundaryOutsideWindow(t *testing.T) {
	text := strings.Repeat("a", 100) + "\n" + strings.Repeat("a", 5000)
	got := SplitMessage(text, 4096)
	if len(got[0]) != 4096 {
		t.Errorf("newline outside the window should not be used, got len %d", len(got[0]))
	}
}

func TestSplitMessage_RuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 50) // 2 bytes each
	got := SplitMessage(text, 7)

	if strings.Join(got, "") != text {
		t.Fatal("concatenation mismatch")
	}
	for i, c := range got {
		if len(c) > 7 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
	}
}

func TestSplitMessage_TinyLimit(t *testing.T) {
	got := SplitMessage("abc", 0)
	if strings.Join(got, "") != "abc" || len(got) != 3 {
		t.Errorf("SplitMessage(abc, 0) = %q", got)
	}
}

func TestSplitMessage_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	alphabet := []string{"a", "b", " ", "\n", "*", "_", "ü", "日"}

	for i := 0; i < 300; i++ {
		var sb strings.Builder
		n := rng.IntN(3000)
		for j := 0; j < n; j++ {
			sb.WriteString(alphabet[rng.IntN(len(alphabet))])
		}
		text := sb.String()
		limit := 1 + rng.IntN(600)

		chunks := SplitMessage(text, limit)
		if strings.Join(chunks, "") != text {
			t.Fatalf("case %d: concatenation mismatch (limit %d)", i, limit)
		}
		for _, c := range chunks {
			if len(c) > limit {
				t.Fatalf("case %d: chunk len %d exceeds limit %d", i, len(c), limit)
			}
			if len(chunks) > 1 && c == "" {
				t.Fatalf("case %d: empty chunk", i)
			}
		}
		if len(text) <= limit && len(chunks) != 1 {
			t.Fatalf("case %d: short text split into %d chunks", i, len(chunks))
		}
	}
}
