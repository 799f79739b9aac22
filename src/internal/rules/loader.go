package rules

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/hashing"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// Sources lists the files a rule set is built from. Later sources override
// earlier ones for the same pattern.
type Sources struct {
	// RulesFile is the main rules file. Files ending in .yaml/.yml are read as rewrite lists.
	RulesFile string `json:"rules_file"`
	// YAMLImports are additional rewrite lists.
	YAMLImports []string `json:"yaml_imports,omitempty"`
	// FilterLists are adblock-syntax lists consulted when no host rule matches.
	FilterLists []string `json:"filter_lists,omitempty"`
}

// LoadFile loads a single rules file.
func LoadFile(path string) (*RuleSet, *LoadReport, error) {
	return Load(Sources{RulesFile: path})
}

// Load reads every source into a new snapshot. Per-line problems are
// collected in the report; an unreadable file fails the whole load so that
// callers can keep their previous snapshot.
func Load(src Sources) (*RuleSet, *LoadReport, error) {
	b := newBuilder()

	if src.RulesFile != "" {
		if err := b.loadSource(src.RulesFile, isYAMLSource(src.RulesFile)); err != nil {
			return nil, nil, err
		}
	}
	for _, path := range src.YAMLImports {
		if err := b.loadSource(path, true); err != nil {
			return nil, nil, err
		}
	}

	if len(src.FilterLists) > 0 {
		texts := make([]string, 0, len(src.FilterLists))
		for _, path := range src.FilterLists {
			text, err := b.readFilterList(path)
			if err != nil {
				return nil, nil, err
			}
			texts = append(texts, text)
		}

		engine, err := NewFilterEngine(texts)
		if err != nil {
			return nil, nil, errors.NewParseError("failed to compile filter lists", err)
		}
		b.filter = engine
	}

	set := b.build()
	log.Infof("Loaded %d rules (%d skipped, %d duplicates) and %d filter rules from %s",
		set.Len(), set.report.Skipped, set.report.Duplicates, set.FilterRules(), strings.Join(set.sources, ", "))

	return set, set.report, nil
}

func (b *builder) loadSource(path string, asYAML bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewParseError(fmt.Sprintf("failed to open rules source %s", path), err)
	}
	defer f.Close()

	r := hashing.NewChecksumReader(f)
	if asYAML {
		err = b.parseYAML(r, path)
	} else {
		_, err = b.parseText(r, path)
	}
	if err != nil {
		return err
	}

	b.sources = append(b.sources, path)
	b.checksum = append(b.checksum, r.Checksum())
	return nil
}

func (b *builder) readFilterList(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewParseError(fmt.Sprintf("failed to open filter list %s", path), err)
	}
	defer f.Close()

	r := hashing.NewChecksumReader(f)
	content, err := io.ReadAll(r)
	if err != nil {
		return "", errors.NewParseError(fmt.Sprintf("failed to read filter list %s", path), err)
	}

	b.sources = append(b.sources, path)
	b.checksum = append(b.checksum, r.Checksum())
	return string(content), nil
}
