package dataset

import (
	json "github.com/goccy/go-json"

	"github.com/civsource/parisbudget/internal/drilldown"
)

// The structs below mirror the JSON fixtures written by the export
// pipeline. Amounts are euros, already rounded upstream. Families the API
// only relays (vote/execute, GeoJSON, housing layers) are served as raw
// bytes instead and have no struct here.

// SankeyNode is one node of a flow diagram. Category is "revenue",
// "expense" or "central" for budgets, "actif"/"passif"/"central" for the
// balance sheet.
type SankeyNode struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// SankeyLink connects two nodes by name.
type SankeyLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// BudgetTotals carries the per-year headline figures.
type BudgetTotals struct {
	Recettes float64 `json:"recettes"`
	Depenses float64 `json:"depenses"`
	Solde    float64 `json:"solde"`
}

// Sankey is one year of budget flows plus the per-node drilldown lists,
// keyed category ("revenue"/"expenses") then node name.
type Sankey struct {
	Year      int                                     `json:"year"`
	Totals    BudgetTotals                            `json:"totals"`
	Nodes     []SankeyNode                            `json:"nodes"`
	Links     []SankeyLink                            `json:"links"`
	Drilldown map[string]map[string][]drilldown.Item `json:"drilldown"`
	ByEntity  json.RawMessage                        `json:"byEntity,omitempty"`
}

// YearSummary is one row of the budget index.
type YearSummary struct {
	Year     int     `json:"year"`
	Recettes float64 `json:"recettes"`
	Depenses float64 `json:"depenses"`
	Solde    float64 `json:"solde"`
}

// IndexEntity lists the years available for one reporting entity.
type IndexEntity struct {
	Years []int  `json:"years"`
	Label string `json:"label"`
}

// BudgetIndex is budget_index.json.
type BudgetIndex struct {
	AvailableYears []int                  `json:"availableYears"`
	LatestYear     int                    `json:"latestYear"`
	Entities       map[string]IndexEntity `json:"entities"`
	Summary        []YearSummary          `json:"summary"`
}

// BilanTotals carries the balance-sheet aggregates.
type BilanTotals struct {
	ActifNet             float64 `json:"actif_net"`
	PassifNet            float64 `json:"passif_net"`
	EcartEquilibre       float64 `json:"ecart_equilibre"`
	FondsPropres         float64 `json:"fonds_propres"`
	DetteTotale          float64 `json:"dette_totale"`
	DettesFinancieres    float64 `json:"dettes_financieres"`
	DettesNonFinancieres float64 `json:"dettes_non_financieres"`
	Provisions           float64 `json:"provisions"`
}

// BilanKPIs are the derived balance-sheet ratios. RatioEndettement is null
// upstream when fonds propres are zero.
type BilanKPIs struct {
	RatioEndettement   *float64 `json:"ratio_endettement"`
	PctFondsPropres    float64  `json:"pct_fonds_propres"`
	PctDetteFinanciere float64  `json:"pct_dette_financiere"`
}

// Bilan is one year of the balance sheet, drilldown keyed "actif"/"passif"
// then node name.
type Bilan struct {
	Year        int                                     `json:"year"`
	GeneratedAt string                                  `json:"generated_at"`
	Totals      BilanTotals                             `json:"totals"`
	KPIs        BilanKPIs                               `json:"kpis"`
	Nodes       []SankeyNode                            `json:"nodes"`
	Links       []SankeyLink                            `json:"links"`
	Drilldown   map[string]map[string][]drilldown.Item `json:"drilldown"`
}

// NatureSlice is one niveau-1 share of the spending-by-nature donut.
type NatureSlice struct {
	Nature  string  `json:"nature"`
	Montant float64 `json:"montant"`
	Pct     float64 `json:"pct"`
}

// NatureDetail is one niveau-2 share within a nature.
type NatureDetail struct {
	Thematique string  `json:"thematique"`
	Montant    float64 `json:"montant"`
	Pct        float64 `json:"pct"`
}

// Nature is budget_nature_{year}.json.
type Nature struct {
	Year          int                       `json:"year"`
	GeneratedAt   string                    `json:"generated_at"`
	TotalDepenses float64                   `json:"total_depenses"`
	NbNatures     int                       `json:"nb_natures"`
	Niveau1       []NatureSlice             `json:"niveau_1"`
	Niveau2       map[string][]NatureDetail `json:"niveau_2"`
}

// SectionFlows is one budget section's in/out for a year.
type SectionFlows struct {
	Recettes float64 `json:"recettes"`
	Depenses float64 `json:"depenses"`
}

// EvolutionSections splits a year between the operating and investment
// sections.
type EvolutionSections struct {
	Fonctionnement SectionFlows `json:"fonctionnement"`
	Investissement SectionFlows `json:"investissement"`
}

// EvolutionTotals carries a year's headline metrics.
type EvolutionTotals struct {
	Recettes       float64 `json:"recettes"`
	Depenses       float64 `json:"depenses"`
	SurplusDeficit float64 `json:"surplus_deficit"`
	SoldeComptable float64 `json:"solde_comptable"`
}

// EvolutionYear is one row of the multi-year series.
type EvolutionYear struct {
	Year         int               `json:"year"`
	Totals       EvolutionTotals   `json:"totals"`
	Sections     EvolutionSections `json:"sections"`
	EpargneBrute float64           `json:"epargne_brute"`
}

// Evolution is evolution_budget.json. Years are sorted most recent first,
// as exported.
type Evolution struct {
	GeneratedAt string            `json:"generated_at"`
	Source      string            `json:"source"`
	Description string            `json:"description"`
	Definitions map[string]string `json:"definitions"`
	Years       []EvolutionYear   `json:"years"`
}

// SubventionsTreemap wraps subventions/treemap_{year}.json. The rows are
// render-only and pass through untouched.
type SubventionsTreemap struct {
	Year          int             `json:"year"`
	GeneratedAt   string          `json:"generated_at"`
	TotalMontant  float64         `json:"total_montant"`
	NbThematiques int             `json:"nb_thematiques"`
	Data          json.RawMessage `json:"data"`
}

// Beneficiaires wraps subventions/beneficiaires_{year}.json.
type Beneficiaires struct {
	Year            int             `json:"year"`
	GeneratedAt     string          `json:"generated_at"`
	TotalMontant    float64         `json:"total_montant"`
	NbBeneficiaires int             `json:"nb_beneficiaires"`
	Data            json.RawMessage `json:"data"`
}

// SubventionsYearTotal is one year's totals in the subventions index. The
// exporter keys the map by year number, which JSON stores as strings.
type SubventionsYearTotal struct {
	MontantTotal  float64 `json:"montant_total"`
	NbSubventions int     `json:"nb_subventions"`
}

// SubventionsFilters lists the filter vocabularies for the subsidy views.
type SubventionsFilters struct {
	Thematiques       []string `json:"thematiques"`
	NaturesJuridiques []string `json:"natures_juridiques"`
	Directions        []string `json:"directions"`
}

// SubventionsIndex is subventions/index.json.
type SubventionsIndex struct {
	GeneratedAt    string                          `json:"generated_at"`
	Source         string                          `json:"source"`
	AvailableYears []int                           `json:"available_years"`
	TotalsByYear   map[string]SubventionsYearTotal `json:"totals_by_year"`
	Filters        SubventionsFilters              `json:"filters"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MapSubvention is one subsidy on the map, geocoded through its SIRET.
type MapSubvention struct {
	ID           string       `json:"id"`
	Annee        int          `json:"annee"`
	Beneficiaire string       `json:"beneficiaire"`
	SIRET        string       `json:"siret"`
	Objet        string       `json:"objet"`
	Montant      float64      `json:"montant"`
	Direction    string       `json:"direction"`
	Nature       string       `json:"nature"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Adresse      string       `json:"adresse,omitempty"`
	CodePostal   string       `json:"codePostal,omitempty"`
	Commune      string       `json:"commune,omitempty"`
}

// MapSubventions is map/subventions_{year}.json.
type MapSubventions struct {
	Year       int             `json:"year"`
	Total      float64         `json:"total"`
	Count      int             `json:"count"`
	Geolocated int             `json:"geolocated"`
	Data       []MapSubvention `json:"data"`
}

// Investissement is one investment project, geocoded through the address
// ladder.
type Investissement struct {
	NomProjet      string  `json:"nom_projet"`
	Montant        float64 `json:"montant"`
	Arrondissement int     `json:"arrondissement,omitempty"`
	Source         string  `json:"source,omitempty"`
	Lat            float64 `json:"lat,omitempty"`
	Lon            float64 `json:"lon,omitempty"`
	GeoSource      string  `json:"geo_source,omitempty"`
	GeoScore       float64 `json:"geo_score,omitempty"`
	GeoLabel       string  `json:"geo_label,omitempty"`
}

// Investissements is map/investissements_complet_{year}.json. Stats mixes
// merge counters with the geocoding breakdown added later, so it stays a
// free-form map across rewrites.
type Investissements struct {
	Year        int                    `json:"year"`
	Source      string                 `json:"source,omitempty"`
	Methodology string                 `json:"methodology,omitempty"`
	GeneratedAt string                 `json:"generated_at,omitempty"`
	GeocodedAt  string                 `json:"geocoded_at,omitempty"`
	Stats       map[string]interface{} `json:"stats"`
	Data        []Investissement       `json:"data"`
}
