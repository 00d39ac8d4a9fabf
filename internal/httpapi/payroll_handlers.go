package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"payline.org/internal/payroll"
)

type createRecipientRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
	Rate          string `json:"rate" validate:"required,amount"`
	PayCycle      string `json:"pay_cycle" validate:"required,oneof=WEEKLY BIWEEKLY MONTHLY"`
}

type updateRecipientRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=200"`
	Rate     *string `json:"rate" validate:"omitempty,amount"`
	PayCycle *string `json:"pay_cycle" validate:"omitempty,oneof=WEEKLY BIWEEKLY MONTHLY"`
}

type runItemRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=64"`
	Amount      string `json:"amount" validate:"required,amount"`
}

type recordRunRequest struct {
	ExternalReference string           `json:"external_reference" validate:"required,max=256"`
	Status            string           `json:"status" validate:"omitempty,oneof=PENDING COMPLETED"`
	Items             []runItemRequest `json:"items" validate:"required,min=1,dive"`
}

type settleRunRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED FAILED"`
}

type listRunsResponse struct {
	Items      []runDTO `json:"items"`
	NextBefore string   `json:"next_before,omitempty"`
}

func (a *API) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req createRecipientRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	rate, err := payroll.ParseAmount(req.Rate)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := a.payroll.CreateRecipient(r.Context(), actor(r), r.PathValue("orgID"), payroll.RecipientInput{
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Rate:          rate,
		PayCycle:      payroll.PayCycle(req.PayCycle),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s/recipients/%s", rec.OrganizationID, rec.ID))
	writeJSON(w, http.StatusCreated, toRecipientDTO(rec))
}

func (a *API) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	recs, err := a.payroll.ListRecipients(r.Context(), actor(r), r.PathValue("orgID"), includeArchived)
	if err != nil {
		handleError(w, r, err)
		return
	}
	items := make([]recipientDTO, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toRecipientDTO(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[recipientDTO]{Items: items})
}

func (a *API) handleGetRecipient(w http.ResponseWriter, r *http.Request) {
	rec, err := a.payroll.GetRecipient(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("recipientID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecipientDTO(rec))
}

func (a *API) handleUpdateRecipient(w http.ResponseWriter, r *http.Request) {
	var req updateRecipientRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	var upd payroll.RecipientUpdate
	upd.Name = req.Name
	if req.Rate != nil {
		rate, err := payroll.ParseAmount(*req.Rate)
		if err != nil {
			handleError(w, r, err)
			return
		}
		upd.Rate = &rate
	}
	if req.PayCycle != nil {
		cycle := payroll.PayCycle(*req.PayCycle)
		upd.PayCycle = &cycle
	}
	rec, err := a.payroll.UpdateRecipient(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("recipientID"), upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecipientDTO(rec))
}

func (a *API) handleArchiveRecipient(w http.ResponseWriter, r *http.Request) {
	rec, err := a.payroll.ArchiveRecipient(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("recipientID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecipientDTO(rec))
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("balance"))
	if raw == "" {
		handleError(w, r, &ValidationError{Fields: map[string]string{"balance": "is required"}})
		return
	}
	balance, err := payroll.ParseAmount(raw)
	if err != nil {
		handleError(w, r, &ValidationError{Fields: map[string]string{
			"balance": fmt.Sprintf("must be a decimal with at most %d fractional digits", payroll.AmountScale),
		}})
		return
	}
	p, err := a.payroll.Preview(r.Context(), actor(r), r.PathValue("orgID"), balance)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(p))
}

func (a *API) handleRecordRun(w http.ResponseWriter, r *http.Request) {
	var req recordRunRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	in := payroll.RecordInput{
		ExternalReference: req.ExternalReference,
		Status:            payroll.RunStatus(req.Status),
		Items:             make([]payroll.Item, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		amount, err := payroll.ParseAmount(it.Amount)
		if err != nil {
			handleError(w, r, err)
			return
		}
		in.Items = append(in.Items, payroll.Item{RecipientID: it.RecipientID, Amount: amount})
	}
	run, err := a.payroll.RecordRun(r.Context(), actor(r), r.PathValue("orgID"), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s/payroll/runs/%s", run.OrganizationID, run.ID))
	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 50, 1, 200)
	if err != nil {
		handleError(w, r, &ValidationError{Fields: map[string]string{"limit": err.Error()}})
		return
	}
	runs, err := a.payroll.ListRuns(r.Context(), actor(r), r.PathValue("orgID"), payroll.RunFilter{
		Limit:  limit,
		Before: r.URL.Query().Get("before"),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := listRunsResponse{Items: make([]runDTO, 0, len(runs))}
	for _, run := range runs {
		resp.Items = append(resp.Items, toRunDTO(run))
	}
	if len(runs) == limit {
		resp.NextBefore = runs[len(runs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.payroll.GetRun(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("runID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (a *API) handleSettleRun(w http.ResponseWriter, r *http.Request) {
	var req settleRunRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	run, err := a.payroll.SettleRun(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("runID"), payroll.RunStatus(req.Status))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return v, nil
}
