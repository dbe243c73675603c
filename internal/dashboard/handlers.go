package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civsource/parisbudget/internal/config"
	"github.com/civsource/parisbudget/internal/dataset"
	"github.com/civsource/parisbudget/internal/drilldown"
)

// RegisterRoutes mounts the API under /api/v1.
func (s *Service) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(RequestID(), RequestLogger(s.logger))

	api.GET("/years", s.HandleYears)
	api.GET("/overview", s.HandleOverview)
	api.GET("/availability", s.HandleAvailability)

	api.GET("/budget/:year", s.HandleBudget)
	api.GET("/budget/:year/nature", s.HandleNature)
	api.GET("/budget/:year/sections", s.HandleSections)
	api.GET("/budget/:year/drilldown", s.HandleBudgetDrilldown)

	api.GET("/bilan/:year", s.HandleBilan)
	api.GET("/bilan/:year/drilldown", s.HandleBilanDrilldown)

	api.GET("/evolution", s.HandleEvolution)
	api.GET("/vote-execute", s.HandleVoteExecute)

	api.GET("/subventions/:year", s.HandleSubventions)
	api.GET("/subventions/:year/beneficiaires", s.HandleBeneficiaires)

	api.GET("/map/subventions/:year", s.HandleMapSubventions)
	api.GET("/map/investissements/:year", s.HandleMapInvestissements)
	api.GET("/map/logements", s.HandleMapLogements)
	api.GET("/map/arrondissements", s.HandleMapArrondissements)

	api.GET("/cache/status", s.HandleCacheStatus)
	api.POST("/cache/refresh", s.HandleCacheRefresh)

	api.GET("/settings", s.HandleGetSettings)
	api.PUT("/settings", s.HandleUpdateSettings)
}

// yearParam parses the :year path segment, answering 400 itself on bad
// input.
func yearParam(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1900 || year > 2200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return 0, false
	}
	return year, true
}

// respondDataset maps store errors to the API contract: expected absence
// is a 404, everything else a 500.
func respondDataset(c *gin.Context, payload interface{}, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, payload)
	case errors.Is(err, dataset.ErrNotAvailable):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// HandleYears returns the available years per dataset family
func (s *Service) HandleYears(c *gin.Context) {
	cache, ok := s.getCache()
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"message": "cache empty; refresh required", "needsRefresh": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"years": cache.Years, "latestYear": cache.LatestYear})
}

// HandleOverview returns the cached cross-year overview
func (s *Service) HandleOverview(c *gin.Context) {
	cache, ok := s.getCache()
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"message": "cache empty; refresh required", "needsRefresh": true})
		return
	}
	c.JSON(http.StatusOK, cache)
}

// HandleAvailability relays data_availability.json
func (s *Service) HandleAvailability(c *gin.Context) {
	data, err := s.store.Availability()
	respondDataset(c, data, err)
}

// HandleBudget returns one year of budget flows
func (s *Service) HandleBudget(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	sankey, err := s.store.BudgetSankey(year)
	respondDataset(c, sankey, err)
}

// HandleNature returns one year of spending by nature
func (s *Service) HandleNature(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	nature, err := s.store.Nature(year)
	respondDataset(c, nature, err)
}

// HandleEvolution returns the multi-year series
func (s *Service) HandleEvolution(c *gin.Context) {
	evo, err := s.store.Evolution()
	respondDataset(c, evo, err)
}

// HandleVoteExecute relays vote_vs_execute.json
func (s *Service) HandleVoteExecute(c *gin.Context) {
	data, err := s.store.VoteExecute()
	respondDataset(c, data, err)
}

// HandleSubventions returns one year of subsidies by theme
func (s *Service) HandleSubventions(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	treemap, err := s.store.SubventionsTreemap(year)
	respondDataset(c, treemap, err)
}

// HandleBeneficiaires returns one year of subsidy recipients
func (s *Service) HandleBeneficiaires(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	benef, err := s.store.Beneficiaires(year)
	respondDataset(c, benef, err)
}

// HandleMapSubventions returns the geocoded subsidy layer
func (s *Service) HandleMapSubventions(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	subs, err := s.store.MapSubventions(year)
	respondDataset(c, subs, err)
}

// HandleMapInvestissements returns the geocoded investment layer
func (s *Service) HandleMapInvestissements(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	inv, err := s.store.Investissements(year)
	respondDataset(c, inv, err)
}

// HandleMapLogements relays the social-housing layer
func (s *Service) HandleMapLogements(c *gin.Context) {
	data, err := s.store.LogementsSociaux()
	respondDataset(c, data, err)
}

// HandleMapArrondissements relays the arrondissement polygons
func (s *Service) HandleMapArrondissements(c *gin.Context) {
	data, err := s.store.Arrondissements()
	respondDataset(c, data, err)
}

// HandleCacheStatus returns cache metadata
func (s *Service) HandleCacheStatus(c *gin.Context) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.cache == nil {
		c.JSON(http.StatusOK, gin.H{
			"hasCache":     false,
			"inProgress":   s.cacheRefreshing,
			"lastRefresh":  nil,
			"stale":        false,
			"needsRefresh": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hasCache":    true,
		"inProgress":  s.cacheRefreshing,
		"lastRefresh": s.cache.LastRefresh,
		"stale":       s.cache.Stale,
	})
}

// HandleCacheRefresh triggers a rebuild of the overview
func (s *Service) HandleCacheRefresh(c *gin.Context) {
	if err := s.RebuildCache(); err != nil {
		if err.Error() == "refresh already in progress" {
			c.JSON(http.StatusAccepted, gin.H{"message": "refresh already in progress", "inProgress": true})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "cache rebuilt", "lastRefresh": time.Now()})
}

// HandleGetSettings returns the current application settings
func (s *Service) HandleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.Settings())
}

// HandleUpdateSettings updates application settings and saves to disk
func (s *Service) HandleUpdateSettings(c *gin.Context) {
	var updated config.Settings
	if err := c.BindJSON(&updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings format"})
		return
	}

	s.swapSettings(&updated)

	// Mark cache as stale so the next refresh recomputes with new settings
	s.cacheMu.Lock()
	if s.cache != nil {
		s.cache.Stale = true
	}
	s.cacheMu.Unlock()

	if err := config.SaveSettings(&updated); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "settings updated successfully"})
}

// drilldownItem decorates an item with the drillability probe so clients
// never re-scan the source list to decide click-through.
type drilldownItem struct {
	drilldown.Item
	HasChildren bool `json:"hasChildren"`
}

type drilldownResponse struct {
	Node        string                 `json:"node"`
	Category    string                 `json:"category"`
	Path        []string               `json:"path"`
	Breadcrumbs []drilldown.Breadcrumb `json:"breadcrumbs"`
	Items       []drilldownItem        `json:"items"`
	Total       float64                `json:"total"`
}

// HandleBudgetDrilldown serves the stateless navigator over one sankey
// node's item list. Without a path it answers the grouped root view; with
// one it answers the children under that path.
func (s *Service) HandleBudgetDrilldown(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	category := c.Query("category")
	key, ok := budgetDrilldownKey(category)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be revenue or expense"})
		return
	}

	sankey, err := s.store.BudgetSankey(year)
	if err != nil {
		respondDataset(c, nil, err)
		return
	}

	s.respondDrilldown(c, category, c.Query("node"), sankey.Drilldown[key], c.Query("path"))
}

// HandleBilanDrilldown is the same navigator parameterized for the balance
// sheet's actif/passif sides.
func (s *Service) HandleBilanDrilldown(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	side := c.Query("side")
	if side != "actif" && side != "passif" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be actif or passif"})
		return
	}

	bilan, err := s.store.Bilan(year)
	if err != nil {
		respondDataset(c, nil, err)
		return
	}

	s.respondDrilldown(c, side, c.Query("node"), bilan.Drilldown[side], c.Query("path"))
}

// budgetDrilldownKey maps the API's category names onto the fixture's
// drilldown keys ("revenue"/"expenses").
func budgetDrilldownKey(category string) (string, bool) {
	switch category {
	case "revenue":
		return "revenue", true
	case "expense", "expenses":
		return "expenses", true
	default:
		return "", false
	}
}

func (s *Service) respondDrilldown(c *gin.Context, category, node string, byNode map[string][]drilldown.Item, pathParam string) {
	items := byNode[node]
	if len(items) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no children", "node": node})
		return
	}

	path := drilldown.SplitPath(pathParam)
	var view []drilldown.Item
	if len(path) == 0 {
		view = drilldown.GroupByPrefix(items)
	} else {
		view = drilldown.ChildrenOf(items, path)
	}
	if len(view) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no children", "node": node, "path": pathParam})
		return
	}

	var total float64
	for _, it := range view {
		total += it.Value
	}

	capped := drilldown.AggregateOutliers(view, s.Settings().OutlierCap)
	out := make([]drilldownItem, len(capped))
	for i, it := range capped {
		out[i] = drilldownItem{
			Item:        it,
			HasChildren: drilldown.HasChildren(items, path, it),
		}
	}

	crumbs := make([]drilldown.Breadcrumb, 0, len(path)+1)
	crumbs = append(crumbs, drilldown.Breadcrumb{Index: 0, Title: node})
	for i, seg := range path {
		crumbs = append(crumbs, drilldown.Breadcrumb{Index: i + 1, Title: seg})
	}

	c.JSON(http.StatusOK, drilldownResponse{
		Node:        node,
		Category:    category,
		Path:        path,
		Breadcrumbs: crumbs,
		Items:       out,
		Total:       total,
	})
}

// HandleSections splits one year's category total between the operating
// and investment sections. When the sections cover less than the
// configured share of the sankey total, the gap is shown as a synthetic
// "Opérations spéciales" row so the rows always reconcile with the
// headline figure.
func (s *Service) HandleSections(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	category := c.Query("category")
	if category != "revenue" && category != "expense" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category must be revenue or expense"})
		return
	}

	evo, err := s.store.Evolution()
	if err != nil {
		respondDataset(c, nil, err)
		return
	}

	var row *dataset.EvolutionYear
	for i := range evo.Years {
		if evo.Years[i].Year == year {
			row = &evo.Years[i]
			break
		}
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sections for year"})
		return
	}

	var fonc, inv, total float64
	if category == "revenue" {
		fonc, inv = row.Sections.Fonctionnement.Recettes, row.Sections.Investissement.Recettes
		total = row.Totals.Recettes
	} else {
		fonc, inv = row.Sections.Fonctionnement.Depenses, row.Sections.Investissement.Depenses
		total = row.Totals.Depenses
	}

	sections := []drilldown.Item{
		{Name: "Fonctionnement", Value: fonc},
		{Name: "Investissement", Value: inv},
	}
	if covered := fonc + inv; total > 0 && covered < total*s.Settings().SpecialOpsShare {
		sections = append(sections, drilldown.Item{Name: "Opérations spéciales", Value: total - covered})
	}

	c.JSON(http.StatusOK, gin.H{
		"year":     year,
		"category": category,
		"total":    total,
		"sections": sections,
	})
}

// HandleBilan returns one year of the balance sheet
func (s *Service) HandleBilan(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	bilan, err := s.store.Bilan(year)
	respondDataset(c, bilan, err)
}
