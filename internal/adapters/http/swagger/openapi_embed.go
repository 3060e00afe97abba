package swagger

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
)

// OpenAPI is the operator API description served on /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte

// Info is the part of the embedded document the docs page shows.
type Info struct {
	Title   string
	Version string
	Paths   []string
}

// Describe parses the embedded document with the same YAML parser the
// config loader uses.
func Describe() (Info, error) {
	doc, err := yaml.Parser().Unmarshal(OpenAPI)
	if err != nil {
		return Info{}, fmt.Errorf("parse openapi.yaml: %w", err)
	}
	var info Info
	if meta, ok := doc["info"].(map[string]interface{}); ok {
		info.Title, _ = meta["title"].(string)
		info.Version, _ = meta["version"].(string)
	}
	if paths, ok := doc["paths"].(map[string]interface{}); ok {
		for p := range paths {
			info.Paths = append(info.Paths, p)
		}
		sort.Strings(info.Paths)
	}
	return info, nil
}
