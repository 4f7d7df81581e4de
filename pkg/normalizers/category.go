package normalizers

// CatchAll receives every category the lookup table does not know.
const CatchAll = "OUTRO"

// DefaultCategories maps source sector labels to the controlled vocabulary.
var DefaultCategories = map[string]string{
	"AGÊNCIA VIAGENS":      "AGÊNCIA DE VIAGENS",
	"AGÊNCIA DE VIAGENS":   "AGÊNCIA DE VIAGENS",
	"HOTEL":                "HOTEL",
	"POUSADA":              "POUSADA",
	"RESTAURANTE":          "RESTAURANTE",
	"LANCHONETE":           "LANCHONETE",
	"BAR":                  "BAR",
	"PONTO TURÍSTICO":      "PONTO TURÍSTICO",
	"MUSEU":                "MUSEU",
	"GALERIA":              "GALERIA",
	"COMÉRCIO":             "COMÉRCIO",
	"ARTESANATO":           "ARTESANATO",
	"TRANSPORTE TURÍSTICO": "TRANSPORTE TURÍSTICO",
	"GUIA DE TURISMO":      "GUIA DE TURISMO",
}

// CategoryMapper maps free-text categories onto a closed vocabulary.
// Keys are compared accent, case and whitespace insensitively.
type CategoryMapper struct {
	lookup   map[string]string
	catchAll string
}

func NewCategoryMapper(table map[string]string, catchAll string) *CategoryMapper {
	if catchAll == "" {
		catchAll = CatchAll
	}
	lookup := make(map[string]string, len(table))
	for k, v := range table {
		lookup[Key(k)] = v
	}
	return &CategoryMapper{lookup: lookup, catchAll: catchAll}
}

// Map returns nil for blank input and the catch-all for unknown labels, so no record is dropped.
func (m *CategoryMapper) Map(raw string) *string {
	text := CleanText(raw)
	if text == nil {
		return nil
	}
	if v, ok := m.lookup[Key(*text)]; ok {
		return &v
	}
	v := m.catchAll
	return &v
}

// Known reports whether raw maps to a vocabulary entry other than the catch-all.
func (m *CategoryMapper) Known(raw string) bool {
	_, ok := m.lookup[Key(raw)]
	return ok
}
