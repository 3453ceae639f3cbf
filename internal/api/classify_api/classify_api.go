package classify_api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
	"github.com/cargoline/tariffbox/internal/services/emissions"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// ClassifyAPI is the HTTP boundary: decode the shipment payload, call the
// linker, translate the result. No decision logic lives here.
type ClassifyAPI struct {
	linker    *emissions.Linker
	limiter   rateLimiter
	rateLimit int64
}

func New(linker *emissions.Linker, limiter rateLimiter, rateLimitPerMinute int64) *ClassifyAPI {
	return &ClassifyAPI{linker: linker, limiter: limiter, rateLimit: rateLimitPerMinute}
}

func (a *ClassifyAPI) Register(r chi.Router) {
	r.Post("/classify", a.handleClassify)
	r.Post("/shipments/classify", a.handleClassifyAndLink)
}

type shipmentRequest struct {
	ID            string   `json:"id"`
	ArrivedAt     *apiDate `json:"arrived_at"`
	OriginCountry string   `json:"origin_country"`
	HSCode        string   `json:"hs_code"`
	Description   string   `json:"description"`
	NetWeightKG   float64  `json:"net_weight_kg"`
	GrossWeightKG float64  `json:"gross_weight_kg"`
}

type classifyRequest struct {
	ShipmentID    string   `json:"shipment_id"`
	RefDate       *apiDate `json:"ref_date"`
	OriginCountry string   `json:"origin_country"`
	HSHint        string   `json:"hs_hint"`
	TextHint      string   `json:"text_hint"`
	WeightKG      float64  `json:"weight_kg"`
}

type classificationResponse struct {
	HSCode8           string   `json:"hs_code8"`
	TaricCode         *string  `json:"taric_code"`
	RulingID          *string  `json:"ruling_id"`
	Source            string   `json:"source"`
	ValidFrom         *apiDate `json:"validity_from,omitempty"`
	ValidTo           *apiDate `json:"validity_to,omitempty"`
	Notes             *string  `json:"notes,omitempty"`
	EmissionIntensity *float64 `json:"emission_intensity,omitempty"`
	EmissionSource    *string  `json:"emission_source,omitempty"`
	Reused            bool     `json:"reused,omitempty"`
}

func (a *ClassifyAPI) handleClassify(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r) {
		return
	}
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in := models.ClassificationContext{
		ShipmentID:    req.ShipmentID,
		OriginCountry: req.OriginCountry,
		HSHint:        req.HSHint,
		TextHint:      req.TextHint,
		WeightKG:      req.WeightKG,
	}
	if req.RefDate != nil {
		in.RefDate = req.RefDate.Time
	}

	res, err := a.linker.Classify(r.Context(), in)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res, nil, nil, false))
}

func (a *ClassifyAPI) handleClassifyAndLink(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r) {
		return
	}
	var req shipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	shipment := models.ShipmentInput{
		ID:            req.ID,
		OriginCountry: req.OriginCountry,
		HSCode:        req.HSCode,
		Description:   req.Description,
		NetWeightKG:   req.NetWeightKG,
		GrossWeightKG: req.GrossWeightKG,
	}
	if req.ArrivedAt != nil {
		shipment.ArrivedAt = &req.ArrivedAt.Time
	}
	force := r.URL.Query().Get("force") == "true"

	linked, err := a.linker.ClassifyAndLink(r.Context(), shipment, force)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(linked.Classification, linked.EmissionIntensity, linked.EmissionSource, linked.Reused))
}

func (a *ClassifyAPI) allow(w http.ResponseWriter, r *http.Request) bool {
	if a.limiter == nil || a.rateLimit <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ok, _, err := a.limiter.Allow(r.Context(), "rl:classify:"+host, a.rateLimit, time.Minute)
	if err != nil {
		// Limiter outage must not take classification down with it.
		return true
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func toResponse(res models.ClassificationResult, intensity *float64, source *string, reused bool) classificationResponse {
	return classificationResponse{
		HSCode8:           res.HSCode8,
		TaricCode:         res.TaricCode,
		RulingID:          res.RulingID,
		Source:            res.Source,
		ValidFrom:         wrapDate(res.ValidFrom),
		ValidTo:           wrapDate(res.ValidTo),
		Notes:             res.Notes,
		EmissionIntensity: intensity,
		EmissionSource:    source,
		Reused:            reused,
	}
}

// Input errors reject the call; data-access errors surface as a bad gateway.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrHSUnresolvable),
		errors.Is(err, models.ErrOriginRequired),
		errors.Is(err, models.ErrRefDateRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// apiDate accepts and emits plain YYYY-MM-DD as well as RFC3339 on input.
type apiDate struct {
	time.Time
}

func (d *apiDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errors.Wrap(err, "parse date")
	}
	d.Time = t
	return nil
}

func (d apiDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format("2006-01-02"))
}

func wrapDate(t *time.Time) *apiDate {
	if t == nil {
		return nil
	}
	return &apiDate{Time: *t}
}
