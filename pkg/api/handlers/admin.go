package handlers

import (
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api/middleware"
	"github.com/marmos91/wopihost/pkg/store"
	"github.com/marmos91/wopihost/pkg/store/item"
	"github.com/marmos91/wopihost/pkg/wopi/content"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

// ItemCreator creates primary-store items.
type ItemCreator interface {
	Create(ctx context.Context, req item.CreateRequest, content io.Reader) (*item.Item, error)
}

// AdminHandler serves the JWT-protected /api/v1 endpoints used by the
// embedding application.
type AdminHandler struct {
	tokens    *token.Service
	oracle    ability.Oracle
	content   *content.Gateway
	discovery *discovery.Resolver
	items     ItemCreator
	publicURL string
	validate  *validator.Validate
}

// NewAdminHandler creates the admin handler. items may be nil, in which
// case item creation answers 404.
func NewAdminHandler(tokens *token.Service, oracle ability.Oracle, gw *content.Gateway, resolver *discovery.Resolver, items ItemCreator, publicURL string) *AdminHandler {
	return &AdminHandler{
		tokens:    tokens,
		oracle:    oracle,
		content:   gw,
		discovery: resolver,
		items:     items,
		publicURL: publicURL,
		validate:  validator.New(),
	}
}

// IssueTokenRequest names a document either by item id or by mount and
// path. User is omitted for the anonymous user.
type IssueTokenRequest struct {
	ItemID  string  `json:"item_id,omitempty" validate:"required_without=MountID,excluded_with=MountID"`
	MountID string  `json:"mount_id,omitempty" validate:"required_without=ItemID"`
	Path    string  `json:"path,omitempty" validate:"required_with=MountID"`
	User    *string `json:"user,omitempty"`
	Lang    string  `json:"lang,omitempty"`
}

// Ref returns the resource the request names.
func (req IssueTokenRequest) Ref() (store.ResourceRef, error) {
	if req.ItemID != "" {
		return store.ItemRef(req.ItemID), nil
	}
	return store.MountRef(req.MountID, req.Path)
}

// IssueTokenResponse carries what the embedding page needs to open the
// editor. AccessTokenTTL is the expiry in Unix milliseconds.
type IssueTokenResponse struct {
	AccessToken    string `json:"access_token"`
	AccessTokenTTL int64  `json:"access_token_ttl"`
	FileID         string `json:"file_id"`
	WopiSrc        string `json:"wopi_src"`
	LaunchURL      string `json:"launch_url,omitempty"`
}

// IssueToken handles POST /api/v1/tokens.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		BadRequest(w, "either item_id or mount_id with path is required")
		return
	}
	ref, err := req.Ref()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	if ref, err = h.content.Canonical(ctx, ref); err != nil {
		WriteError(w, r, err)
		return
	}
	st, err := h.content.Stat(ctx, ref)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	tok, expires, err := h.tokens.Issue(ctx, ref, req.User, h.oracle)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	wopiSrc := middleware.BaseURL(r, h.publicURL) + "/wopi/files/" + ref.FileID()
	resp := IssueTokenResponse{
		AccessToken:    tok,
		AccessTokenTTL: expires,
		FileID:         ref.FileID(),
		WopiSrc:        wopiSrc,
	}
	if tmpl, ok := h.discovery.ResolveLaunchTemplate(st.MimeType, path.Ext(st.Name)); ok {
		resp.LaunchURL = discovery.ComputeLaunchURL(tmpl, wopiSrc, req.Lang)
	}

	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		logger.InfoCtx(ctx, "Access token issued",
			logger.Resource(ref.Key()), "subject", claims.Subject)
	}
	WriteJSONCreated(w, resp)
}

// RevokeToken handles DELETE /api/v1/tokens/{token}.
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	if err := h.tokens.Revoke(r.Context(), tok); err != nil {
		logger.ErrorCtx(r.Context(), "Token revocation failed", logger.TokenHash(tok), logger.Err(err))
		InternalServerError(w, "Failed to revoke token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscoveryResponse describes the live discovery snapshot.
type DiscoveryResponse struct {
	Ready        bool              `json:"ready"`
	RefreshedAt  *time.Time        `json:"refreshed_at,omitempty"`
	Mimetypes    map[string]string `json:"mimetypes"`
	Extensions   map[string]string `json:"extensions"`
	Clients      []string          `json:"clients"`
	ProofClients []string          `json:"proof_clients"`
}

func (h *AdminHandler) discoveryResponse() DiscoveryResponse {
	resp := DiscoveryResponse{
		Mimetypes:    map[string]string{},
		Extensions:   map[string]string{},
		Clients:      h.discovery.Clients(),
		ProofClients: []string{},
	}
	if snap := h.discovery.Snapshot(); snap != nil {
		resp.Ready = true
		at := snap.RefreshedAt
		resp.RefreshedAt = &at
		resp.Mimetypes = snap.Mimetypes
		resp.Extensions = snap.Extensions
	}
	for name := range h.discovery.KeySets() {
		resp.ProofClients = append(resp.ProofClients, name)
	}
	sort.Strings(resp.ProofClients)
	return resp
}

// GetDiscovery handles GET /api/v1/discovery.
func (h *AdminHandler) GetDiscovery(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.discoveryResponse())
}

// RefreshDiscovery handles POST /api/v1/discovery/refresh. A failed run
// leaves the previous snapshot live and answers 502.
func (h *AdminHandler) RefreshDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := h.discovery.Refresh(r.Context()); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSONOK(w, h.discoveryResponse())
}

// CreateItemResponse describes a newly created item.
type CreateItemResponse struct {
	*item.Item
	FileID string `json:"file_id"`
}

// CreateItem handles POST /api/v1/items. The item starts empty; the
// editor fills it with its first PutFile.
func (h *AdminHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	if h.items == nil {
		NotFound(w, "item store not configured")
		return
	}

	var req item.CreateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		BadRequest(w, "name is required")
		return
	}

	it, err := h.items.Create(r.Context(), req, strings.NewReader(""))
	if err != nil {
		switch store.CodeOf(err) {
		case store.ErrAlreadyExists:
			WriteProblem(w, http.StatusConflict, "Conflict", "an item with that name already exists")
		case store.ErrInvalidArgument:
			BadRequest(w, "invalid item name")
		default:
			logger.ErrorCtx(r.Context(), "Item creation failed", logger.Err(err))
			InternalServerError(w, "Failed to create item")
		}
		return
	}
	WriteJSONCreated(w, CreateItemResponse{Item: it, FileID: it.Ref().FileID()})
}
