package rules

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
)

// rewriteItem is one DNS rewrite in the AdGuard Home format.
type rewriteItem struct {
	Domain string `yaml:"domain"`
	Answer string `yaml:"answer"`
}

// parseYAML reads a list of {domain, answer} items, either at the document
// root or under a "rewrites" key. Invalid items are reported like malformed lines.
func (b *builder) parseYAML(r io.Reader, source string) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.NewParseError(fmt.Sprintf("failed to decode %s", sourceName(source)), err)
	}

	seq := rewriteSequence(&doc)
	if seq == nil {
		return errors.NewParseError(fmt.Sprintf("%s: expected a list of {domain, answer} items", sourceName(source)), nil)
	}

	for _, node := range seq.Content {
		var item rewriteItem
		if err := node.Decode(&item); err != nil {
			b.reject(source, node.Line, nodeText(node), fmt.Sprintf("invalid rewrite item: %v", err))
			continue
		}

		text := strings.TrimSpace(item.Domain + " " + item.Answer)
		switch {
		case item.Domain == "":
			b.reject(source, node.Line, text, "missing domain")
		case item.Answer == "":
			b.reject(source, node.Line, text, "missing answer")
		default:
			b.addEntry(source, node.Line, text, item.Domain, item.Answer)
		}
	}

	return nil
}

func rewriteSequence(doc *yaml.Node) *yaml.Node {
	node := doc
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	switch node.Kind {
	case yaml.SequenceNode:
		return node
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "rewrites" && node.Content[i+1].Kind == yaml.SequenceNode {
				return node.Content[i+1]
			}
		}
	}
	return nil
}

func nodeText(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func isYAMLSource(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
