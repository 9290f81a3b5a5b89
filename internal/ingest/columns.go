package ingest

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/harborcats/intake-cli/internal/fetcher"
)

//go:embed columns.yaml
var columnsYAML []byte

// aliasTable maps logical field names to the export header variants that
// may carry them. Sources read payload fields only through this table so
// the stringly-typed payload stays confined to one adapter layer.
type aliasTable map[string][]string

// get returns the first non-empty value among the header variants for
// field. Unknown fields read as empty.
func (a aliasTable) get(row map[string]string, field string) string {
	return fetcher.Row(row).Get(a[field]...)
}

var columnAliases = mustParseColumns(columnsYAML)

// mustParseColumns loads the embedded alias document. The document ships
// inside the binary, so a parse failure is a build defect and panics.
func mustParseColumns(data []byte) map[string]map[string]aliasTable {
	var doc map[string]map[string]aliasTable
	if err := yaml.Unmarshal(data, &doc); err != nil {
		panic(eris.Wrap(err, "ingest: parse columns.yaml"))
	}
	return doc
}

// columns returns the alias table for a (system, table) pair, empty when
// the pair declares no aliases.
func columns(system, table string) aliasTable {
	return columnAliases[system][table]
}
