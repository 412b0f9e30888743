package compose

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

//go:embed locales/*.yaml
var localeFS embed.FS

const baseLocale = "en"

// catalogSet holds one printer per embedded locale. Every locale starts from
// the English strings so a partial translation never prints a raw key.
type catalogSet struct {
	builder  *catalog.Builder
	printers map[string]*message.Printer
	names    []string
}

func loadCatalogs() (*catalogSet, error) {
	entries, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, err
	}
	raw := map[string]map[string]string{}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		b, err := localeFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, err
		}
		var m map[string]string
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		raw[strings.TrimSuffix(e.Name(), ".yaml")] = m
	}
	base, ok := raw[baseLocale]
	if !ok {
		return nil, fmt.Errorf("locale %s missing", baseLocale)
	}

	cs := &catalogSet{
		builder:  catalog.NewBuilder(catalog.Fallback(language.English)),
		printers: map[string]*message.Printer{},
	}
	for name, msgs := range raw {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", name, err)
		}
		for k, v := range base {
			if _, ok := msgs[k]; !ok {
				if err := cs.builder.SetString(tag, k, v); err != nil {
					return nil, err
				}
			}
		}
		for k, v := range msgs {
			if err := cs.builder.SetString(tag, k, v); err != nil {
				return nil, fmt.Errorf("locale %s key %s: %w", name, k, err)
			}
		}
		cs.names = append(cs.names, name)
	}
	sort.Strings(cs.names)
	for _, name := range cs.names {
		cs.printers[strings.ToLower(name)] = message.NewPrinter(language.MustParse(name), message.Catalog(cs.builder))
	}
	return cs, nil
}

// printer returns the closest embedded printer for locale, English last.
func (cs *catalogSet) printer(locale string) *message.Printer {
	l := strings.ToLower(strings.ReplaceAll(locale, "_", "-"))
	for l != "" {
		if p, ok := cs.printers[l]; ok {
			return p
		}
		i := strings.LastIndexByte(l, '-')
		if i < 0 {
			break
		}
		l = l[:i]
	}
	return cs.printers[baseLocale]
}
