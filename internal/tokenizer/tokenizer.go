// Package tokenizer splits text into words and maps them to vocabulary ids
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
	"github.com/lth/pure-go-elmo/internal/vocab"
)

// Tokenizer is a whitespace word tokenizer bound to a vocabulary
type Tokenizer struct {
	vocab      *vocab.Vocabulary
	normalizer Normalizer
	splitPunct bool
}

// Config holds tokenizer configuration
type Config struct {
	Lowercase     bool
	RemoveAccents bool
	NFKC          bool
	// SplitPunctuation makes every punctuation rune a word of its own.
	SplitPunctuation bool
}

// New creates a tokenizer over v
func New(v *vocab.Vocabulary, cfg Config) (*Tokenizer, error) {
	if v == nil {
		return nil, elmoerr.Configf("tokenizer needs a vocabulary")
	}
	if v.PaddingIdx < 0 {
		return nil, elmoerr.Configf("tokenizer needs a vocabulary with a padding entry")
	}
	return &Tokenizer{
		vocab:      v,
		normalizer: NewNormalizer(cfg.Lowercase, cfg.RemoveAccents, cfg.NFKC),
		splitPunct: cfg.SplitPunctuation,
	}, nil
}

// Split normalizes text and breaks it into words
func (t *Tokenizer) Split(text string) []string {
	text = t.normalizer.Normalize(text)
	if !t.splitPunct {
		return strings.Fields(text)
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// EncodeWords maps already split words to ids. Words go through the same
// normalization as Split; unknown words map to the unknown id.
func (t *Tokenizer) EncodeWords(words []string) ([]int, error) {
	ids := make([]int, len(words))
	for i, w := range words {
		id, err := t.vocab.Index(t.normalizer.Normalize(w))
		if err != nil {
			return nil, err
		}
		if id == t.vocab.PaddingIdx {
			return nil, elmoerr.Inputf("word %d is the padding token %q", i, w)
		}
		ids[i] = id
	}
	return ids, nil
}

// Encode splits and maps text to ids
func (t *Tokenizer) Encode(text string) ([]int, error) {
	return t.EncodeWords(t.Split(text))
}

// Decode maps ids back to words, dropping padding
func (t *Tokenizer) Decode(ids []int) ([]string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= t.vocab.Len() {
			return nil, elmoerr.Inputf("id %d outside vocabulary of %d", id, t.vocab.Len())
		}
		if id == t.vocab.PaddingIdx {
			continue
		}
		words = append(words, t.vocab.Word(id))
	}
	return words, nil
}

// Pad lays sequences out as a [len(seqs), longest] matrix filled with the
// padding id. It returns the matrix row-major and its width.
func (t *Tokenizer) Pad(seqs [][]int) ([]int, int) {
	width := 0
	for _, s := range seqs {
		if len(s) > width {
			width = len(s)
		}
	}
	out := make([]int, len(seqs)*width)
	for i := range out {
		out[i] = t.vocab.PaddingIdx
	}
	for i, s := range seqs {
		copy(out[i*width:], s)
	}
	return out, width
}

// VocabSize returns the vocabulary size
func (t *Tokenizer) VocabSize() int {
	return t.vocab.Len()
}

// Normalizer handles text normalization
type Normalizer struct {
	lowercase     bool
	removeAccents bool
	nfkc          bool
}

// NewNormalizer creates a new normalizer
func NewNormalizer(lowercase, removeAccents, nfkc bool) Normalizer {
	return Normalizer{
		lowercase:     lowercase,
		removeAccents: removeAccents,
		nfkc:          nfkc,
	}
}

// Normalize normalizes text
func (n Normalizer) Normalize(text string) string {
	if n.nfkc {
		text = norm.NFKC.String(text)
	}
	if n.removeAccents {
		text = n.removeAccentsFunc(text)
	}
	if n.lowercase {
		text = strings.ToLower(text)
	}
	return text
}

// removeAccentsFunc removes diacritical marks
func (n Normalizer) removeAccentsFunc(s string) string {
	t := norm.NFD.String(s)

	var result strings.Builder
	result.Grow(len(t))
	for _, r := range t {
		if !unicode.Is(unicode.Mn, r) {
			result.WriteRune(r)
		}
	}
	return norm.NFC.String(result.String())
}
