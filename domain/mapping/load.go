package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/emergent-company/goldzone/pkg/apperror"
)

// Load reads a mapping list from a YAML or JSON file. JSON is a subset of
// YAML, so both formats go through the same decoder.
func Load(path string) (List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return List{}, apperror.ErrConfiguration.
			WithMessage(fmt.Sprintf("read mapping file %s", path)).
			WithInternal(err)
	}
	return Parse(data)
}

// Parse decodes and validates a mapping list document.
func Parse(data []byte) (List, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return List{}, apperror.ErrConfiguration.
			WithMessage("mapping document is not valid YAML").
			WithInternal(err)
	}
	if doc == nil {
		return List{}, apperror.NewConfiguration("mapping document is empty")
	}
	return ListFromMap(doc)
}

// Marshal renders a mapping list as YAML.
func Marshal(l List) ([]byte, error) {
	return yaml.Marshal(l.ToMap())
}
