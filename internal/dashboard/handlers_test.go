package dashboard

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civsource/parisbudget/internal/config"
	"github.com/civsource/parisbudget/internal/dataset"
	"github.com/civsource/parisbudget/internal/drilldown"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

func newTestRouter(t *testing.T) (*Service, *gin.Engine) {
	t.Helper()
	root := t.TempDir()

	writeFixture(t, root, "budget_sankey_2023.json", `{
		"year": 2023,
		"totals": {"recettes": 35.0, "depenses": 35.0, "solde": 0},
		"nodes": [{"name": "Culture", "category": "expense"}],
		"links": [],
		"drilldown": {
			"expenses": {
				"Culture": [
					{"name": "A: X", "value": 10},
					{"name": "A: Y", "value": 5},
					{"name": "B: Z", "value": 20}
				]
			},
			"revenue": {}
		}
	}`)
	writeFixture(t, root, "budget_index.json", `{
		"availableYears": [2023],
		"latestYear": 2023,
		"summary": [{"year": 2023, "recettes": 35.0, "depenses": 35.0, "solde": 0}]
	}`)
	writeFixture(t, root, "evolution_budget.json", `{
		"years": [{
			"year": 2023,
			"totals": {"recettes": 35.0, "depenses": 35.0, "surplus_deficit": 0},
			"sections": {
				"fonctionnement": {"recettes": 20.0, "depenses": 18.0},
				"investissement": {"recettes": 10.0, "depenses": 9.0}
			},
			"epargne_brute": 2.0
		}]
	}`)
	writeFixture(t, root, "bilan_sankey_2023.json", `{
		"year": 2023,
		"totals": {"actif_net": 50.0, "passif_net": 50.0},
		"kpis": {"pct_fonds_propres": 60.0, "pct_dette_financiere": 30.0},
		"drilldown": {
			"actif": {"Actif immobilisé": [
				{"name": "Immobilisations: Corporelles", "value": 30},
				{"name": "Immobilisations: Incorporelles", "value": 5}
			]},
			"passif": {}
		}
	}`)

	settings := config.DefaultSettings()
	settings.DataDir = root

	svc := NewService(dataset.NewStore(root), settings, nil)
	r := gin.New()
	svc.RegisterRoutes(r)
	return svc, r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestYearsEndpoint(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/years")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Years      map[string][]int `json:"years"`
		LatestYear int              `json:"latestYear"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, 2023, body.LatestYear)
	assert.Equal(t, []int{2023}, body.Years[dataset.FamilyBudget])
}

func TestEmptyCacheAnswers202(t *testing.T) {
	svc := &Service{store: dataset.NewStore(t.TempDir()), settings: config.DefaultSettings()}
	r := gin.New()
	svc.RegisterRoutes(r)

	w := get(r, "/api/v1/overview")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "needsRefresh")
}

func TestBudgetEndpoint(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/budget/2023")
	require.Equal(t, http.StatusOK, w.Code)

	var sankey dataset.Sankey
	decodeBody(t, w, &sankey)
	assert.Equal(t, 2023, sankey.Year)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/budget/1999").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/budget/abc").Code)
}

func TestDrilldownRootGroupsByPrefix(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/budget/2023/drilldown?category=expense&node=Culture")
	require.Equal(t, http.StatusOK, w.Code)

	var body drilldownResponse
	decodeBody(t, w, &body)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "B", body.Items[0].Name)
	assert.Equal(t, 20.0, body.Items[0].Value)
	assert.Equal(t, "A", body.Items[1].Name)
	assert.Equal(t, 15.0, body.Items[1].Value)
	assert.True(t, body.Items[0].HasChildren)
	assert.True(t, body.Items[1].HasChildren)
	assert.Equal(t, 35.0, body.Total)
	require.Len(t, body.Breadcrumbs, 1)
	assert.Equal(t, "Culture", body.Breadcrumbs[0].Title)
}

func TestDrilldownIntoPrefix(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/budget/2023/drilldown?category=expense&node=Culture&path=A")
	require.Equal(t, http.StatusOK, w.Code)

	var body drilldownResponse
	decodeBody(t, w, &body)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "X", body.Items[0].Name)
	assert.Equal(t, 10.0, body.Items[0].Value)
	assert.Equal(t, "Y", body.Items[1].Name)
	assert.False(t, body.Items[0].HasChildren)
	require.Len(t, body.Breadcrumbs, 2)
	assert.Equal(t, "A", body.Breadcrumbs[1].Title)
}

func TestDrilldownLeafAndUnknownNodeAre404(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/budget/2023/drilldown?category=expense&node=Culture&path=B:%20Z")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no children")

	w = get(r, "/api/v1/budget/2023/drilldown?category=expense&node=Inconnu")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(r, "/api/v1/budget/2023/drilldown?category=sideways&node=Culture")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBilanDrilldown(t *testing.T) {
	_, r := newTestRouter(t)

	w := get(r, "/api/v1/bilan/2023/drilldown?side=actif&node=Actif%20immobilis%C3%A9&path=Immobilisations")
	require.Equal(t, http.StatusOK, w.Code)

	var body drilldownResponse
	decodeBody(t, w, &body)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "Corporelles", body.Items[0].Name)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/bilan/2023/drilldown?side=milieu").Code)
}

func TestSectionsAppendSpecialOperations(t *testing.T) {
	_, r := newTestRouter(t)

	// Expenses: 18 + 9 = 27 < 0.95 * 35, so the gap shows up as a row.
	w := get(r, "/api/v1/budget/2023/sections?category=expense")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total    float64          `json:"total"`
		Sections []drilldown.Item `json:"sections"`
	}
	decodeBody(t, w, &body)
	require.Len(t, body.Sections, 3)
	assert.Equal(t, "Opérations spéciales", body.Sections[2].Name)
	assert.InDelta(t, 8.0, body.Sections[2].Value, 1e-9)

	var sum float64
	for _, s := range body.Sections {
		sum += s.Value
	}
	assert.InDelta(t, body.Total, sum, 1e-9)
}

func TestSectionsWithoutGapStaysTwoRows(t *testing.T) {
	svc, r := newTestRouter(t)
	writeFixture(t, svc.store.Root(), "evolution_budget.json", `{
		"years": [{
			"year": 2023,
			"totals": {"recettes": 30.0, "depenses": 30.0},
			"sections": {
				"fonctionnement": {"recettes": 20.0, "depenses": 20.0},
				"investissement": {"recettes": 10.0, "depenses": 10.0}
			}
		}]
	}`)
	svc.store.InvalidateAll()

	w := get(r, "/api/v1/budget/2023/sections?category=revenue")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sections []drilldown.Item `json:"sections"`
	}
	decodeBody(t, w, &body)
	assert.Len(t, body.Sections, 2)
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Setenv("PARISBUDGET_DIR", t.TempDir())
	svc, r := newTestRouter(t)

	updated := *svc.Settings()
	updated.OutlierCap = 20

	payload, err := json.Marshal(&updated)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 20, svc.Settings().OutlierCap)

	w = get(r, "/api/v1/settings")
	require.Equal(t, http.StatusOK, w.Code)
	var got config.Settings
	decodeBody(t, w, &got)
	assert.Equal(t, 20, got.OutlierCap)

	// The update also landed on disk.
	loaded, err := config.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.OutlierCap)
}

func TestCacheRefreshAndStatus(t *testing.T) {
	_, r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/refresh", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = get(r, "/api/v1/cache/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasCache":true`)
}

func TestMarkStaleFlagsOverview(t *testing.T) {
	svc, r := newTestRouter(t)
	svc.MarkStale([]string{"budget_index.json"})

	w := get(r, "/api/v1/cache/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stale":true`)
}
