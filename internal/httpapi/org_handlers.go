package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"payline.org/internal/auth"
	"payline.org/internal/org"
)

type createOrganizationRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	TreasuryAddress string `json:"treasury_address" validate:"omitempty,wallet"`
}

type updateOrganizationRequest struct {
	Name            *string `json:"name" validate:"omitempty,max=200"`
	TreasuryAddress *string `json:"treasury_address" validate:"omitempty,wallet"`
}

type organizationResponse struct {
	Organization org.Organization `json:"organization"`
	Role         org.Role         `json:"role"`
}

type addMemberRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required_without=UserID,omitempty,wallet"`
	UserID        string `json:"user_id" validate:"omitempty,max=64"`
	Role          string `json:"role" validate:"required,oneof=OWNER_ADMIN FINANCE_OPERATOR"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=OWNER_ADMIN FINANCE_OPERATOR"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	o, err := a.orgs.CreateOrganization(r.Context(), actor(r), req.Name, req.TreasuryAddress)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", o.ID))
	writeJSON(w, http.StatusCreated, organizationResponse{Organization: o, Role: org.RoleOwnerAdmin})
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	affiliations, err := a.orgs.ListOrganizations(r.Context(), actor(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if affiliations == nil {
		affiliations = []org.Affiliation{}
	}
	writeJSON(w, http.StatusOK, listResponse[org.Affiliation]{Items: affiliations})
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, m, err := a.orgs.GetOrganization(r.Context(), actor(r), r.PathValue("orgID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationResponse{Organization: o, Role: m.Role})
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var req updateOrganizationRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	o, err := a.orgs.UpdateOrganization(r.Context(), actor(r), r.PathValue("orgID"), org.OrganizationUpdate{
		Name:            req.Name,
		TreasuryAddress: req.TreasuryAddress,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.orgs.ListMembers(r.Context(), actor(r), r.PathValue("orgID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[org.Membership]{Items: members})
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	role, err := org.ParseRole(req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	targetID := req.UserID
	if req.WalletAddress != "" {
		identity, err := a.auth.IdentityByWallet(r.Context(), req.WalletAddress)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "no identity has signed in with this wallet")
				return
			}
			handleError(w, r, err)
			return
		}
		targetID = identity.ID
	}
	m, err := a.orgs.AddMember(r.Context(), actor(r), r.PathValue("orgID"), targetID, role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	role, err := org.ParseRole(req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.orgs.ChangeRole(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("userID"), role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := a.orgs.RemoveMember(r.Context(), actor(r), r.PathValue("orgID"), r.PathValue("userID")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
