// Package vocab holds the word vocabulary the model is aligned to, the
// external character lexicon shipped with a checkpoint, and the tables
// derived from both at construction time.
package vocab

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// Default reserved word entries.
const (
	DefaultPadding = "<pad>"
	DefaultUnknown = "<unk>"
)

// Vocabulary maps words to dense ids. The padding entry (if any) comes first,
// then the unknown entry, then words in insertion order.
//
// Words added with AddNoCreate come from evaluation data only; the token
// embedder never learned a word vector for them.
type Vocabulary struct {
	words      []string
	index      map[string]int
	noCreate   map[string]bool
	padding    string
	unknown    string
	PaddingIdx int // -1 when there is no padding entry
	UnknownIdx int // -1 when there is no unknown entry
}

// New returns a vocabulary holding only the reserved entries. An empty
// padding or unknown string omits that entry.
func New(padding, unknown string) *Vocabulary {
	v := &Vocabulary{
		index:      make(map[string]int),
		noCreate:   make(map[string]bool),
		padding:    padding,
		unknown:    unknown,
		PaddingIdx: -1,
		UnknownIdx: -1,
	}
	if padding != "" {
		v.PaddingIdx = v.add(padding)
	}
	if unknown != "" {
		v.UnknownIdx = v.add(unknown)
	}
	return v
}

// FromWords builds a default vocabulary and adds words to it.
func FromWords(words []string) *Vocabulary {
	v := New(DefaultPadding, DefaultUnknown)
	v.AddAll(words)
	return v
}

func (v *Vocabulary) add(word string) int {
	if id, ok := v.index[word]; ok {
		return id
	}
	id := len(v.words)
	v.words = append(v.words, word)
	v.index[word] = id
	return id
}

// Add inserts word if missing and returns its id. Adding a word that was
// previously added with AddNoCreate clears that mark.
func (v *Vocabulary) Add(word string) int {
	delete(v.noCreate, word)
	return v.add(word)
}

// AddAll adds every word in order.
func (v *Vocabulary) AddAll(words []string) {
	for _, w := range words {
		v.Add(w)
	}
}

// AddNoCreate inserts a word seen only outside the training data.
func (v *Vocabulary) AddNoCreate(word string) int {
	if id, ok := v.index[word]; ok {
		return id
	}
	v.noCreate[word] = true
	return v.add(word)
}

// IsNoCreate reports whether word was only added through AddNoCreate.
func (v *Vocabulary) IsNoCreate(word string) bool {
	return v.noCreate[word]
}

// NoCreateCount is the number of no-create entries.
func (v *Vocabulary) NoCreateCount() int {
	return len(v.noCreate)
}

// Len returns the number of entries, reserved ones included.
func (v *Vocabulary) Len() int {
	return len(v.words)
}

// Word returns the entry with the given id.
func (v *Vocabulary) Word(id int) string {
	return v.words[id]
}

// Words returns all entries in id order.
func (v *Vocabulary) Words() []string {
	return append([]string(nil), v.words...)
}

// Lookup returns the id of word and whether it is present.
func (v *Vocabulary) Lookup(word string) (int, bool) {
	id, ok := v.index[word]
	return id, ok
}

// Index returns the id of word, falling back to the unknown entry.
func (v *Vocabulary) Index(word string) (int, error) {
	if id, ok := v.index[word]; ok {
		return id, nil
	}
	if v.UnknownIdx < 0 {
		return 0, elmoerr.Inputf("word %q not in vocabulary and no unknown entry", word)
	}
	return v.UnknownIdx, nil
}

// WordRedirects returns a table of Len()+2 ids, the identity except that
// no-create entries point at the unknown entry. The two extra rows are the
// sentence boundary markers.
func (v *Vocabulary) WordRedirects() ([]int, error) {
	table := make([]int, v.Len()+2)
	for i := range table {
		table[i] = i
	}
	if len(v.noCreate) == 0 {
		return table, nil
	}
	if v.UnknownIdx < 0 {
		return nil, elmoerr.Configf("vocabulary has no-create entries but no unknown entry")
	}
	for word := range v.noCreate {
		table[v.index[word]] = v.UnknownIdx
	}
	return table, nil
}

// Read parses a vocabulary file: one word per line in id order. A line of the
// form "word<TAB>no_create" adds a no-create entry. The reserved entries are
// created first and skipped if they appear in the file.
func Read(r io.Reader) (*Vocabulary, error) {
	v := New(DefaultPadding, DefaultUnknown)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" {
			continue
		}
		word, flag, _ := strings.Cut(line, "\t")
		if flag == "no_create" {
			v.AddNoCreate(word)
		} else {
			v.Add(word)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, elmoerr.Resourcef("read vocabulary: %v", err)
	}
	return v, nil
}

// Load reads the vocabulary file at path.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, elmoerr.Resourcef("open vocabulary: %v", err)
	}
	defer f.Close()
	return Read(f)
}

// Write stores v in the format Read accepts.
func (v *Vocabulary) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, word := range v.words {
		if i == v.PaddingIdx || i == v.UnknownIdx {
			continue
		}
		line := word
		if v.noCreate[word] {
			line += "\tno_create"
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
