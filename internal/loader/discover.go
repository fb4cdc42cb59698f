// Package loader finds the files of a model directory and copies checkpoint
// tensors into live parameters, converting them from the checkpoint's layout
// and gate order to the runtime's.
package loader

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// File names and suffixes of a model directory.
const (
	ConfigSuffix     = ".json"
	CheckpointSuffix = ".gguf"
	CharLexiconName  = "char.dic"
	VocabularyName   = "vocab.txt"
)

// Files are the resources found in a model directory.
type Files struct {
	Dir        string
	Config     string
	Checkpoint string
	// CharLexicon and Vocabulary are empty when absent.
	CharLexicon string
	Vocabulary  string
}

// Discover walks dir and requires exactly one configuration file and exactly
// one checkpoint file anywhere below it.
func Discover(dir string) (*Files, error) {
	files := &Files{Dir: dir}
	var configs, checkpoints []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasSuffix(name, ConfigSuffix):
			configs = append(configs, path)
		case strings.HasSuffix(name, CheckpointSuffix):
			checkpoints = append(checkpoints, path)
		case name == CharLexiconName && files.CharLexicon == "":
			files.CharLexicon = path
		case name == VocabularyName && files.Vocabulary == "":
			files.Vocabulary = path
		}
		return nil
	})
	if err != nil {
		return nil, elmoerr.Resourcef("walk %s: %v", dir, err)
	}

	switch {
	case len(configs) > 1 || len(checkpoints) > 1:
		return nil, elmoerr.Resourcef("multiple config files (*%s) or checkpoint files (*%s) in %s: %v %v",
			ConfigSuffix, CheckpointSuffix, dir, configs, checkpoints)
	case len(configs) == 0 || len(checkpoints) == 0:
		return nil, elmoerr.Resourcef("no config file (*%s) or checkpoint file (*%s) in %s",
			ConfigSuffix, CheckpointSuffix, dir)
	}
	files.Config, files.Checkpoint = configs[0], checkpoints[0]
	return files, nil
}
