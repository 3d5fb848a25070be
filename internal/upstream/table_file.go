package upstream

import (
	"fmt"
	"os"
	"strings"

	"github.com/renzoku/gateway/internal/content"
	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk override shape:
//
//	anime:
//	  detail:
//	    - https://mirror.example/anime/anime/{slug}
//	donghua:
//	  episode: [...]
type tableFile map[string]map[string][]string

// LoadTable reads an endpoint override file. An empty path or a missing file yields an
// empty table, which leaves the defaults untouched when merged.
func LoadTable(path string) (Table, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Table{}, nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return Table{}, nil
		}
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}

	table := make(Table, len(file))
	problems := make([]string, 0)
	for rawType, ops := range file {
		typ := content.Type(strings.ToLower(strings.TrimSpace(rawType)))
		if typ != content.TypeAnime && typ != content.TypeDonghua {
			problems = append(problems, fmt.Sprintf("unknown content type %q", rawType))
			continue
		}
		for rawOp, templates := range ops {
			op, err := content.ParseOperation(rawOp)
			if err != nil {
				problems = append(problems, err.Error())
				continue
			}
			cleaned := make([]string, 0, len(templates))
			for _, tmpl := range templates {
				if tmpl = strings.TrimSpace(tmpl); tmpl != "" {
					cleaned = append(cleaned, tmpl)
				}
			}
			if len(cleaned) == 0 {
				problems = append(problems, fmt.Sprintf("%s.%s has no endpoints", typ, op))
				continue
			}
			if table[typ] == nil {
				table[typ] = make(map[content.Operation][]string)
			}
			table[typ][op] = cleaned
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("endpoints file %s: %s", trimmed, strings.Join(problems, " | "))
	}
	return table, nil
}
