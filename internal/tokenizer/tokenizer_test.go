package tokenizer

import (
	"errors"
	"testing"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

func newTestTokenizer(t *testing.T, cfg Config) (*Tokenizer, *vocab.Vocabulary) {
	t.Helper()
	v := vocab.FromWords([]string{"the", "cafe", "café", "sat", ","})
	tok, err := New(v, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tok, v
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		in   string
		want []string
	}{
		{"whitespace", Config{}, "  The cat\tsat ", []string{"The", "cat", "sat"}},
		{"lowercase", Config{Lowercase: true}, "The CAT", []string{"the", "cat"}},
		{"punctuation", Config{SplitPunctuation: true}, "cat, sat.", []string{"cat", ",", "sat", "."}},
		{"nfkc", Config{NFKC: true}, "ｃａｔ", []string{"cat"}},
		{"accents", Config{RemoveAccents: true}, "café", []string{"cafe"}},
		{"empty", Config{}, "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, _ := newTestTokenizer(t, tt.cfg)
			got := tok.Split(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Split(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	tok, v := newTestTokenizer(t, Config{Lowercase: true})
	ids, err := tok.Encode("The dog sat")
	if err != nil {
		t.Fatal(err)
	}
	the, _ := v.Lookup("the")
	sat, _ := v.Lookup("sat")
	want := []int{the, v.UnknownIdx, sat}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Encode = %v, want %v", ids, want)
		}
	}

	words, err := tok.Decode(append(ids, v.PaddingIdx))
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 3 || words[1] != vocab.DefaultUnknown {
		t.Errorf("Decode = %q", words)
	}
	if _, err := tok.Decode([]int{99}); !errors.Is(err, elmoerr.ErrInput) {
		t.Errorf("out of range id: err = %v", err)
	}
	if _, err := tok.EncodeWords([]string{vocab.DefaultPadding}); !errors.Is(err, elmoerr.ErrInput) {
		t.Errorf("padding word: err = %v", err)
	}
}

func TestPad(t *testing.T) {
	tok, v := newTestTokenizer(t, Config{})
	ids, width := tok.Pad([][]int{{5, 6, 7}, {5}, {}})
	if width != 3 || len(ids) != 9 {
		t.Fatalf("width %d len %d", width, len(ids))
	}
	p := v.PaddingIdx
	want := []int{5, 6, 7, 5, p, p, p, p, p}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Pad = %v, want %v", ids, want)
		}
	}
}
