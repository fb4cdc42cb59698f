package vocab

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// Reserved character-level tokens.
const (
	CharPad = "<pad>"
	CharOOV = "<oov>"
	CharBOW = "<bow>"
	CharEOW = "<eow>"
	CharBOS = "<bos>"
	CharEOS = "<eos>"
)

// ideographicSpace is the character of a lexicon line that carries only an
// index: the whitespace character itself was lost when the line was trimmed.
const ideographicSpace = "\u3000"

// CharLexicon maps characters and reserved tokens to rows of the
// checkpoint's character embedding table.
type CharLexicon map[string]int

// ReadCharLexicon parses a char.dic stream: "char<TAB>index" per line.
func ReadCharLexicon(r io.Reader) (CharLexicon, error) {
	lex := make(CharLexicon)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) == 1 {
			fields = []string{ideographicSpace, fields[0]}
		}
		if len(fields) != 2 {
			return nil, elmoerr.Configf("char.dic line %d: want char<TAB>index, got %q", line, text)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 {
			return nil, elmoerr.Configf("char.dic line %d: bad index %q", line, fields[1])
		}
		lex[fields[0]] = idx
	}
	if err := sc.Err(); err != nil {
		return nil, elmoerr.Resourcef("read char.dic: %v", err)
	}
	for _, tag := range []string{CharPad, CharOOV, CharBOW, CharEOW} {
		if _, ok := lex[tag]; !ok {
			return nil, elmoerr.Configf("%s not found in char.dic", tag)
		}
	}
	return lex, nil
}

// LoadCharLexicon reads the lexicon file at path.
func LoadCharLexicon(path string) (CharLexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, elmoerr.Resourcef("open char lexicon: %v", err)
	}
	defer f.Close()
	return ReadCharLexicon(f)
}

// Row returns the lexicon row for ch and whether ch was present. Missing
// characters map to the out-of-vocabulary row.
func (l CharLexicon) Row(ch string) (int, bool) {
	if idx, ok := l[ch]; ok {
		return idx, true
	}
	return l[CharOOV], false
}

// Chars splits a word into the character strings used as char vocabulary
// entries.
func Chars(word string) []string {
	chars := make([]string, 0, utf8.RuneCountInString(word))
	for _, r := range word {
		chars = append(chars, string(r))
	}
	return chars
}

// BuildCharVocab collects the runtime character vocabulary: <pad>, <oov>, the
// word and sentence boundary markers, then every character of every word.
func BuildCharVocab(words *Vocabulary) *Vocabulary {
	cv := New(CharPad, CharOOV)
	cv.AddAll([]string{CharBOW, CharEOW, CharBOS, CharEOS})
	for _, w := range words.words {
		cv.AddAll(Chars(w))
	}
	return cv
}

// WordCharTable maps every word id, plus the two sentence boundary rows, to a
// fixed-length row of character ids.
type WordCharTable struct {
	Rows     int
	MaxChars int
	// Sentinel fills rows that are never populated. It is one past the last
	// character id, the zero row of the character embedding.
	Sentinel int
	BOSIndex int
	EOSIndex int
	ids      []int
}

// MaxWordChars is the longest word, in characters, plus two for the word
// boundary markers.
func MaxWordChars(words *Vocabulary) int {
	longest := 0
	for _, w := range words.words {
		if n := utf8.RuneCountInString(w); n > longest {
			longest = n
		}
	}
	return longest + 2
}

// BuildWordCharTable lays out [<bow>, chars..., <eow>, <pad>...] for every
// word, truncating words longer than maxChars-2. The padding word's row keeps
// the sentinel. The boundary rows hold [<bow>, <bos>|<eos>, <eow>].
func BuildWordCharTable(words, chars *Vocabulary, maxChars int) (*WordCharTable, error) {
	if maxChars < 3 {
		return nil, elmoerr.Configf("max characters per token %d leaves no room for a character", maxChars)
	}
	t := &WordCharTable{
		Rows:     words.Len() + 2,
		MaxChars: maxChars,
		Sentinel: chars.Len(),
		BOSIndex: words.Len(),
		EOSIndex: words.Len() + 1,
	}
	t.ids = make([]int, t.Rows*maxChars)
	for i := range t.ids {
		t.ids[i] = t.Sentinel
	}

	charID := func(ch string) int {
		id, _ := chars.Index(ch)
		return id
	}
	bow, eow, pad := charID(CharBOW), charID(CharEOW), charID(CharPad)
	fill := func(row int, body []string) {
		r := t.Row(row)
		r[0] = bow
		for i, ch := range body {
			r[i+1] = charID(ch)
		}
		r[len(body)+1] = eow
		for i := len(body) + 2; i < maxChars; i++ {
			r[i] = pad
		}
	}

	for id, w := range words.words {
		if id == words.PaddingIdx {
			continue
		}
		body := Chars(w)
		if len(body) > maxChars-2 {
			body = body[:maxChars-2]
		}
		fill(id, body)
	}
	fill(t.BOSIndex, []string{CharBOS})
	fill(t.EOSIndex, []string{CharEOS})
	return t, nil
}

// Row returns the character ids of word id. It aliases the table.
func (t *WordCharTable) Row(id int) []int {
	return t.ids[id*t.MaxChars : (id+1)*t.MaxChars]
}
