// Package synthetic generates clearly-flagged demonstration datasets for
// use when demonstration mode is enabled. The data is fictitious and is
// tagged source=synthetic everywhere it is stored or served; it must never
// be presented as real surveillance data.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"epipanel/internal/dataset"
)

// Principal ICD-10 chapter ranges used for simulated causes of death.
var icdRanges = []string{
	"A00-B99", "C00-D48", "E00-E90", "F00-F99",
	"G00-G99", "I00-I99", "J00-J99", "K00-K93",
}

// Notifiable diseases used for simulated SINAN records.
var diseases = []string{
	"DENGUE", "CHIKUNGUNYA", "ZIKA", "TUBERCULOSE",
	"HANSENIASE", "LEISHMANIOSE", "SIFILIS", "HEPATITES_VIRAIS",
}

// Generator implements provider.Fetcher with deterministic simulated data.
// The same (system, year) pair always produces the same table, which keeps
// demo dashboards stable across refresh runs.
type Generator struct {
	municipality string
	name         string
	uf           string
}

// New creates a generator for one municipality.
func New(municipality, name, uf string) *Generator {
	return &Generator{municipality: municipality, name: name, uf: uf}
}

// Source implements provider.Source.
func (g *Generator) Source() dataset.Source {
	return dataset.SourceSynthetic
}

// FetchDataset implements provider.Fetcher. It never fails and never
// touches the network.
func (g *Generator) FetchDataset(ctx context.Context, system dataset.System, municipality string, year int) (*dataset.Table, error) {
	if municipality == "" {
		municipality = g.municipality
	}
	seed := int64(year) + int64(xxhash.Sum64String(string(system))%10000)
	rng := rand.New(rand.NewSource(seed))
	n := 50 + rng.Intn(451)

	var table *dataset.Table
	switch system {
	case dataset.SystemSIM:
		table = g.mortality(rng, year, n)
	case dataset.SystemSINAN:
		table = g.notifications(rng, year, n)
	case dataset.SystemSINASC:
		table = g.births(rng, year, n)
	default:
		return nil, fmt.Errorf("unknown system %q", system)
	}

	table.Columns = append(table.Columns, "codigo_municipio", "municipio", "uf")
	for _, row := range table.Rows {
		row["codigo_municipio"] = municipality
		row["municipio"] = g.name
		row["uf"] = g.uf
	}
	return table, nil
}

func (g *Generator) mortality(rng *rand.Rand, year, n int) *dataset.Table {
	t := dataset.NewTable("ano", "mes", "sexo", "idade", "raca_cor", "escolaridade", "estado_civil", "causa_basica", "local_obito")
	for i := 0; i < n; i++ {
		t.Append(map[string]any{
			"ano":          int64(year),
			"mes":          int64(1 + rng.Intn(12)),
			"sexo":         pick(rng, "M", "F"),
			"idade":        int64(math.Min(rng.ExpFloat64()*45, 110)),
			"raca_cor":     pick(rng, "1", "2", "3", "4", "5"),
			"escolaridade": pick(rng, "1", "2", "3", "4", "5", "9"),
			"estado_civil": pick(rng, "1", "2", "3", "4", "5", "9"),
			"causa_basica": pick(rng, icdRanges...),
			"local_obito":  int64(1 + rng.Intn(5)),
		})
	}
	return t
}

func (g *Generator) notifications(rng *rand.Rand, year, n int) *dataset.Table {
	t := dataset.NewTable("ano", "mes", "semana_notificacao", "sexo", "idade", "raca_cor", "doenca", "evolucao", "encerramento")
	for i := 0; i < n; i++ {
		t.Append(map[string]any{
			"ano":               int64(year),
			"mes":               int64(1 + rng.Intn(12)),
			"semana_notificacao": int64(1 + rng.Intn(52)),
			"sexo":              pick(rng, "M", "F"),
			"idade":             int64(math.Min(rng.ExpFloat64()*35, 110)),
			"raca_cor":          pick(rng, "1", "2", "3", "4", "5"),
			"doenca":            pick(rng, diseases...),
			"evolucao":          pick(rng, "1", "2", "3", "4", "9"),
			"encerramento":      int64(1 + rng.Intn(2)),
		})
	}
	return t
}

func (g *Generator) births(rng *rand.Rand, year, n int) *dataset.Table {
	t := dataset.NewTable("ano", "mes", "sexo", "peso", "gestacao_semanas", "idade_mae", "consultas_pre_natal", "tipo_parto", "apgar_5")
	for i := 0; i < n; i++ {
		t.Append(map[string]any{
			"ano":                 int64(year),
			"mes":                 int64(1 + rng.Intn(12)),
			"sexo":                pick(rng, "M", "F", "I"),
			"peso":                int64(3200 + rng.NormFloat64()*500),
			"gestacao_semanas":    int64(38 + rng.NormFloat64()*2),
			"idade_mae":           int64(27 + rng.NormFloat64()*7),
			"consultas_pre_natal": int64(1 + rng.Intn(9)),
			"tipo_parto":          pick(rng, "1", "2", "9"),
			"apgar_5":             int64(rng.Intn(11)),
		})
	}
	return t
}

func pick[T any](rng *rand.Rand, options ...T) T {
	return options[rng.Intn(len(options))]
}
