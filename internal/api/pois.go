package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"skytour/pkg/geo"
	"skytour/pkg/model"
)

// POISource is the catalog view the POI routes read.
type POISource interface {
	POIs() []*model.POI
	Pose() model.VehiclePose
}

// VisitedChecker reports whether a POI was already narrated this session.
type VisitedChecker interface {
	IsVisited(id string) bool
}

// POIHandler exposes the catalog to the map view.
type POIHandler struct {
	src     POISource
	visited VisitedChecker
}

func NewPOIHandler(src POISource, visited VisitedChecker) *POIHandler {
	return &POIHandler{src: src, visited: visited}
}

// POIView is a catalog entry annotated with its position relative to the
// vehicle.
type POIView struct {
	*model.POI
	DistanceM  float64 `json:"distance_m"`
	BearingDeg float64 `json:"bearing"`
	Visited    bool    `json:"visited"`
}

func (h *POIHandler) view(p *model.POI, from geo.Point) POIView {
	to := geo.POIToPoint(p)
	return POIView{
		POI:        p,
		DistanceM:  geo.Distance(from, to),
		BearingDeg: geo.Bearing(from, to),
		Visited:    h.visited.IsVisited(p.ID),
	}
}

// HandleList handles GET /api/pois, nearest first.
func (h *POIHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	from := geo.PoseToPoint(h.src.Pose())
	pois := h.src.POIs()
	out := make([]POIView, 0, len(pois))
	for _, p := range pois {
		out = append(out, h.view(p, from))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	writeJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /api/pois/{id}.
func (h *POIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, p := range h.src.POIs() {
		if p.ID == id {
			writeJSON(w, http.StatusOK, h.view(p, geo.PoseToPoint(h.src.Pose())))
			return
		}
	}
	writeError(w, http.StatusNotFound, "poi not found")
}
