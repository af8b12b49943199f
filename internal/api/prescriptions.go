package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/directory"
	"clinicdesk/m/internal/prescription"
)

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	list, err := h.prescriptions.List(r.Context(), queryLimit(r))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to list prescriptions")
		return
	}
	if err := h.enrich(r.Context(), list); err != nil {
		respondServiceError(w, r, h.log, err, "unable to list prescriptions")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) getPrescription(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	p, err := h.prescriptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to fetch prescription")
		return
	}
	list := []domain.Prescription{*p}
	if err := h.enrich(r.Context(), list); err != nil {
		respondServiceError(w, r, h.log, err, "unable to fetch prescription")
		return
	}
	respondJSON(w, http.StatusOK, list[0])
}

func (h *Handler) createPrescription(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	var req prescription.IssueInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if err := h.prescriptions.Validate(req); err != nil {
		respondServiceError(w, r, h.log, err, "invalid prescription")
		return
	}

	var (
		patient *domain.Patient
		doctor  *domain.Staff
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		patient, err = h.directory.GetPatient(ctx, req.PatientID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Invalid("patient not found")
		}
		return err
	})
	g.Go(func() error {
		var err error
		doctor, err = h.directory.GetDoctor(ctx, req.DoctorID)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, directory.ErrNotDoctor) {
			return domain.Invalid("doctor not found")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		respondServiceError(w, r, h.log, err, "unable to verify prescription references")
		return
	}

	p, err := h.prescriptions.Issue(r.Context(), req, staffID(r))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to create prescription")
		return
	}
	p.PatientName = patient.FullName
	p.DoctorName = doctor.FullName
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) deletePrescription(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	if err := h.prescriptions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, h.log, err, "unable to delete prescription")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// enrich fills patient and doctor display names in place.
func (h *Handler) enrich(ctx context.Context, list []domain.Prescription) error {
	if len(list) == 0 {
		return nil
	}
	patientIDs := make([]string, 0, len(list))
	doctorIDs := make([]string, 0, len(list))
	seen := make(map[string]bool, 2*len(list))
	for _, p := range list {
		if !seen["p:"+p.PatientID] {
			seen["p:"+p.PatientID] = true
			patientIDs = append(patientIDs, p.PatientID)
		}
		if !seen["d:"+p.DoctorID] {
			seen["d:"+p.DoctorID] = true
			doctorIDs = append(doctorIDs, p.DoctorID)
		}
	}

	var patients, doctors map[string]string
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patients, err = h.directory.PatientNames(ctx, patientIDs)
		return err
	})
	g.Go(func() error {
		var err error
		doctors, err = h.directory.StaffNames(ctx, doctorIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range list {
		if name, ok := patients[list[i].PatientID]; ok {
			list[i].PatientName = &name
		}
		if name, ok := doctors[list[i].DoctorID]; ok {
			list[i].DoctorName = &name
		}
	}
	return nil
}
