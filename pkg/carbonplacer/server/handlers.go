package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/algorithms"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/workload"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.timestamp(),
		Version:   Version,
	})
}

func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	out := make([]algorithmView, 0, len(algorithms.Names()))
	for _, n := range algorithms.Names() {
		out = append(out, algorithmView{Name: string(n), Description: n.Description(), UsesForecast: n.UsesForecast()})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"algorithms": out,
		"default":    s.optimizer.DefaultAlgorithm(),
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	workloads, ok := s.buildWorkloads(w, req.Workloads)
	if !ok {
		return
	}

	res, err := s.optimizer.Optimize(r.Context(), workloads, req.Algorithm, req.Datacenters)
	if err != nil {
		respondWithRunError(w, "optimization failed", err)
		return
	}
	respondWithSuccess(w, res)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	workloads, ok := s.buildWorkloads(w, req.Workloads)
	if !ok {
		return
	}

	res, err := s.optimizer.Compare(r.Context(), workloads, req.Algorithms, req.Datacenters)
	if err != nil {
		respondWithRunError(w, "comparison failed", err)
		return
	}
	respondWithSuccess(w, res)
}

func (s *Server) handleCarbonIntensity(w http.ResponseWriter, r *http.Request) {
	snapshot := s.provider.CurrentIntensity(r.Context())

	if regions := r.URL.Query().Get("regions"); regions != "" {
		filtered := make(carbon.Snapshot)
		for _, id := range strings.Split(regions, ",") {
			if v, ok := snapshot.Get(strings.TrimSpace(id)); ok {
				filtered[strings.TrimSpace(id)] = v
			}
		}
		snapshot = filtered
	}

	resp := carbonResponse{Success: true, Data: snapshot, Timestamp: s.timestamp()}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("include_forecast")); include {
		f := s.provider.Forecast(r.Context(), s.optimizer.Horizon())
		resp.Forecast = make(map[string]carbon.Intensity, len(f))
		for k, v := range f {
			resp.Forecast[fmt.Sprintf("%s_%d", k.DatacenterID, k.Slot)] = v
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	hours := algorithms.DefaultHorizonSlots
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid hours %q", v))
			return
		}
		hours = min(n, maxForecastHours)
	}

	structured := make(map[string][]forecastEntry)
	for _, p := range s.provider.Forecast(r.Context(), hours).Points() {
		structured[p.DatacenterID] = append(structured[p.DatacenterID], forecastEntry{
			Hour:      p.Hour,
			Intensity: p.Intensity,
			Renewable: p.Renewable,
		})
	}
	respondWithJSON(w, http.StatusOK, forecastResponse{
		Success:   true,
		Forecast:  structured,
		Hours:     hours,
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleDatacenters(w http.ResponseWriter, r *http.Request) {
	snapshot := s.provider.CurrentIntensity(r.Context())
	dcs := s.optimizer.Datacenters()

	views := make([]DatacenterView, 0, len(dcs))
	for _, dc := range dcs {
		views = append(views, view(dc, snapshot))
	}
	respondWithJSON(w, http.StatusOK, datacentersResponse{Success: true, Datacenters: views, Count: len(views)})
}

func (s *Server) handleDatacenter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dc, ok := s.optimizer.Datacenter(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("datacenter %s not found", id))
		return
	}
	respondWithJSON(w, http.StatusOK, datacenterResponse{
		Success:    true,
		Datacenter: view(dc, s.provider.CurrentIntensity(r.Context())),
	})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	req := SimulateRequest{Count: workload.DefaultCount, TimeSpanHours: workload.DefaultSpan.Hours()}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Count <= 0 {
		req.Count = workload.DefaultCount
	}
	req.Count = min(req.Count, workload.MaxCount)
	if req.Mode == "" {
		req.Mode = string(workload.ModeNormal)
	}

	sim := s.simulator
	if req.Seed != 0 {
		sim = workload.NewSimulator(req.Seed)
	}
	span := time.Duration(req.TimeSpanHours * float64(time.Hour))
	workloads, err := sim.Simulate(workload.Mode(req.Mode), req.Count, s.clock.Now(), span)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, workloadsResponse{
		Success:   true,
		Workloads: workloads,
		Count:     len(workloads),
		Mode:      req.Mode,
	})
}

func (s *Server) handleUploadParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	format, err := workload.FormatFromFilename(header.Filename)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := workload.Parse(file, format, s.clock.Now())
	if err != nil {
		resp := ErrorResponse{Error: err.Error()}
		if res != nil {
			resp.Details = res.Messages()
		}
		respondWithJSON(w, http.StatusBadRequest, resp)
		return
	}

	msg := fmt.Sprintf("Successfully parsed %d workloads", len(res.Workloads))
	if len(res.Errors) > 0 {
		msg += fmt.Sprintf(" (%d rows had errors)", len(res.Errors))
	}
	respondWithJSON(w, http.StatusOK, workloadsResponse{
		Success:   true,
		Workloads: res.Workloads,
		Count:     len(res.Workloads),
		Errors:    res.Messages(),
		Message:   msg,
	})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	format := workload.Format(mux.Vars(r)["format"])
	data, err := workload.Template(format)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=workloads_template.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// buildWorkloads validates every spec, stopping at the first invalid one.
func (s *Server) buildWorkloads(w http.ResponseWriter, specs []model.WorkloadSpec) ([]*model.Workload, bool) {
	if len(specs) == 0 {
		respondWithError(w, http.StatusBadRequest, "missing workloads in request body")
		return nil, false
	}
	now := s.clock.Now()
	out := make([]*model.Workload, 0, len(specs))
	for i, spec := range specs {
		wl, err := model.NewWorkload(spec, now)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid workload %d: %v", i+1, err))
			return nil, false
		}
		out = append(out, wl)
	}
	return out, true
}

func (s *Server) timestamp() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

func view(dc model.Datacenter, snapshot carbon.Snapshot) DatacenterView {
	v := DatacenterView{Datacenter: dc}
	if c, ok := snapshot.Get(dc.ID); ok {
		v.Carbon = &c
	}
	return v
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// isClientError reports whether err was caused by the request rather than
// by the service.
func isClientError(err error) bool {
	var verr *model.ValidationError
	return errors.Is(err, optimizer.ErrUnknownAlgorithm) ||
		errors.Is(err, optimizer.ErrUnknownDatacenter) ||
		errors.Is(err, optimizer.ErrNoDatacenters) ||
		errors.Is(err, optimizer.ErrNoWorkloads) ||
		errors.Is(err, optimizer.ErrTooManyWorkloads) ||
		errors.As(err, &verr)
}

func respondWithRunError(w http.ResponseWriter, prefix string, err error) {
	if isClientError(err) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	klog.ErrorS(err, "Request failed", "operation", prefix)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", prefix, err))
}

// respondWithSuccess writes v as a JSON object with "success": true added.
func respondWithSuccess(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error marshaling response")
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error marshaling response")
		return
	}
	fields["success"] = json.RawMessage("true")
	respondWithJSON(w, http.StatusOK, fields)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Success: false, Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"error marshaling response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
