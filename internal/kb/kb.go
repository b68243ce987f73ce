// Package kb loads the markdown knowledge base staff maintain for parents'
// questions. It is read once at startup and immutable afterwards.
package kb

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const emptyText = "(No knowledge-base content available.)"

type section struct {
	name    string
	content string
}

type KnowledgeBase struct {
	sections []section
	text     string
}

// Load reads every *.md file at the root of fsys, sorted by file name.
// A missing directory yields an empty knowledge base.
func Load(fsys fs.FS, log zerolog.Logger) (*KnowledgeBase, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msg("knowledge-base directory not found")
		return build(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	sections := make([]section, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		sections = append(sections, section{name: strings.TrimSuffix(name, ".md"), content: string(b)})
	}
	log.Info().Int("files", len(sections)).Msg("knowledge base loaded")
	return build(sections), nil
}

func build(sections []section) *KnowledgeBase {
	kb := &KnowledgeBase{sections: sections}
	if len(sections) == 0 {
		kb.text = emptyText
		return kb
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		title := strings.ToUpper(strings.ReplaceAll(s.name, "-", " "))
		parts = append(parts, "### "+title+"\n\n"+s.content)
	}
	kb.text = strings.Join(parts, "\n\n---\n\n")
	return kb
}

// Text returns all sections concatenated for the system prompt.
func (k *KnowledgeBase) Text() string {
	if k == nil {
		return emptyText
	}
	return k.text
}

func (k *KnowledgeBase) Len() int {
	if k == nil {
		return 0
	}
	return len(k.sections)
}
