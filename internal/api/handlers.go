package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"codeberg.org/mutker/pilewatch/internal/risk"
	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	data, err := fc.MarshalJSON()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case monitor.ErrPileNotFound:
		return http.StatusNotFound
	case monitor.ErrInvalidView, ErrInvalidPileID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("error_code", string(code)).Msg("Request failed")
	}
	s.writeJSON(w, status, errorResponse{
		Error:   string(code),
		Message: errors.GetErrorMessage(code),
	})
}

func pileID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New().WithData(ErrInvalidPileID, raw)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLegend(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, risk.Legend())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.monitor.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePiles(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.monitor.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handlePile(w http.ResponseWriter, r *http.Request) {
	id, err := pileID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.monitor.Details(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pileID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := monitor.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	h, err := s.monitor.History(r.Context(), id, view)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

// handlePilesGeoJSON serves the point layer, one feature per pile.
func (s *Server) handlePilesGeoJSON(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.monitor.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, st := range statuses {
		f := geojson.NewFeature(orb.Point{st.Longitude, st.Latitude})
		f.ID = st.ID
		f.Properties["id"] = st.ID
		f.Properties["name"] = st.Name
		f.Properties["voltage"] = st.Voltage
		f.Properties["risk_level"] = st.Risk.String()
		f.Properties["color"] = st.Color
		fc.Append(f)
	}
	s.writeGeoJSON(w, fc)
}

// handlePipelineGeoJSON serves the pipeline line, or an empty collection
// when fewer than two piles exist.
func (s *Server) handlePipelineGeoJSON(w http.ResponseWriter, r *http.Request) {
	route, err := s.monitor.Route(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	if route.HasLine() {
		line := make(orb.LineString, 0, len(route.Points))
		for _, p := range route.Points {
			line = append(line, orb.Point{p.Longitude, p.Latitude})
		}
		f := geojson.NewFeature(line)
		f.Properties["points"] = len(line)
		fc.Append(f)
	}
	s.writeGeoJSON(w, fc)
}
