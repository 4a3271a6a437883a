// Package handlers provides HTTP handlers for the coding API.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/gooclaim/coding-engine/internal/api/middleware"
	"github.com/gooclaim/coding-engine/internal/coding/assembler"
	"github.com/gooclaim/coding-engine/internal/coding/detector"
	"github.com/gooclaim/coding-engine/internal/domain/codingjob"
	fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"
	"github.com/gooclaim/coding-engine/internal/intake"
	"github.com/gooclaim/coding-engine/internal/observability/metrics"
	"github.com/gooclaim/coding-engine/internal/observability/tracing"
	"github.com/gooclaim/coding-engine/pkg/idempotency"
)

// EncounterHandler handles encounter coding endpoints
type EncounterHandler struct {
	repo    *codingjob.Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEncounterHandler creates a new handler
func NewEncounterHandler(repo *codingjob.Repository, m *metrics.Metrics, logger *zap.Logger) *EncounterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncounterHandler{
		repo:    repo,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *EncounterHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Code)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.GetEvents)
	return r
}

// CodeResponse is the response for coding an encounter
type CodeResponse struct {
	ID             string       `json:"id"`
	Status         string       `json:"status"`
	IdempotencyKey string       `json:"idempotency_key"`
	Bundle         *fhir.Bundle `json:"bundle"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Code handles POST /encounters. The envelope is coded synchronously and the
// assembled bundle returned; the job and its events are persisted for audit.
func (h *EncounterHandler) Code(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("encounter-handler")
	ctx, span := tracer.Start(ctx, "code_encounter")
	defer span.End()

	var env intake.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	span.SetAttributes(tracing.JobID(jobID), tracing.Source(env.Source()))
	h.metrics.EncountersReceived.Inc()

	start := time.Now()
	result := detector.Detect(&env)
	bundle := assembler.Assemble(&env, result)
	h.metrics.CodingDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(tracing.BundleID(bundle.ID))

	patient := env.GetPatient()
	encounter := env.GetEncounter()
	patientHash := hashMRN(patient.MRN)
	idemKey := idempotency.GenerateKey(patient.MRN, env.ClaimID, encounter.Date)

	envPayload, _ := env.ToJSON()
	agg := codingjob.NewAggregate(jobID)

	receiveData := &codingjob.CodingJobReceivedData{
		JobID:         jobID,
		ClaimIDInput:  env.ClaimID,
		PatientHash:   patientHash,
		ProviderNPI:   encounter.ProviderNPI,
		LocationNPI:   encounter.LocationNPI,
		EncounterDate: encounter.Date,
		Source:        env.Source(),
		Envelope:      envPayload,
		ReceivedAt:    time.Now().UTC(),
	}
	if err := agg.Receive(receiveData); err != nil {
		h.logger.Error("aggregate receive failed", zap.Error(err))
		h.jsonError(w, "failed to create coding job", http.StatusInternalServerError)
		return
	}

	bundlePayload, _ := json.Marshal(bundle)
	codedData := &codingjob.CodingJobCodedData{
		JobID:          jobID,
		BundleID:       bundle.ID,
		ClaimID:        bundle.Claim().ID,
		DiagnosisCount: len(result.Diagnoses),
		VisitCode:      result.VisitCode.Code,
		Bundle:         bundlePayload,
		CodedAt:        time.Now().UTC(),
	}
	if len(result.Diagnoses) > 0 {
		codedData.PrincipalDiagnosis = result.Diagnoses[0].Code
	}
	for _, p := range result.Procedures {
		codedData.ProcedureCodes = append(codedData.ProcedureCodes, p.Code)
	}
	for _, s := range result.Supplies {
		codedData.SupplyCodes = append(codedData.SupplyCodes, s.Code)
	}
	if err := agg.MarkCoded(codedData); err != nil {
		h.logger.Error("aggregate mark coded failed", zap.Error(err))
		h.jsonError(w, "failed to record coding outcome", http.StatusInternalServerError)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.metrics.EncountersFailed.Inc()
		h.jsonError(w, "failed to save coding job", http.StatusInternalServerError)
		return
	}

	h.metrics.EncountersCoded.Inc()
	h.metrics.BundlesAssembled.Inc()
	h.metrics.ConditionsDetected.Add(float64(len(result.Diagnoses)))
	h.metrics.ProceduresDetected.Add(float64(len(result.Procedures)))

	h.logger.Info("encounter coded",
		zap.String("job_id", jobID),
		zap.String("bundle_id", bundle.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("diagnoses", len(result.Diagnoses)),
		zap.Int("procedures", len(result.Procedures)),
	)

	resp := CodeResponse{
		ID:             jobID,
		Status:         string(agg.Status()),
		IdempotencyKey: idemKey,
		Bundle:         bundle,
		CreatedAt:      time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /encounters/{id}
func (h *EncounterHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "coding job not found", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{
		"id":        agg.ID(),
		"status":    agg.Status(),
		"version":   agg.Version(),
		"bundle_id": agg.BundleID(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetEvents handles GET /encounters/{id}/events
func (h *EncounterHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	events, err := h.repo.GetEvents(ctx, id)
	if err != nil {
		h.jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *EncounterHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// hashMRN hashes the patient MRN so raw identifiers never land in the event store
func hashMRN(mrn string) string {
	if mrn == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(mrn))
	return hex.EncodeToString(sum[:])
}
