package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liquidnet/asset-registry/internal/contract"
	"github.com/liquidnet/asset-registry/internal/registry"
)

// Registry is the database surface the handlers drive.
type Registry interface {
	Submit(ctx context.Context, id registry.AssetID, contractJSON []byte, expectedHash string) (*registry.AssetRecord, error)
	Delete(ctx context.Context, id registry.AssetID, sigB64 string) error
	Get(id registry.AssetID) (*registry.AssetRecord, bool)
	List() map[registry.AssetID]*registry.AssetRecord
}

// Handler exposes the registry write API plus development read endpoints.
type Handler struct {
	db Registry
}

// NewHandler creates the REST handler.
func NewHandler(db Registry) *Handler {
	return &Handler{db: db}
}

// submitRequest is the asset registration body.
type submitRequest struct {
	AssetID      registry.AssetID `json:"asset_id"`
	Contract     json.RawMessage  `json:"contract"`
	ContractHash string           `json:"contract_hash,omitempty"`
}

// deleteRequest carries the issuer's authorization to remove an asset.
type deleteRequest struct {
	Signature string `json:"signature"`
}

// validateRequest is the offline contract validation body.
type validateRequest struct {
	Contract     json.RawMessage `json:"contract"`
	ContractHash string          `json:"contract_hash,omitempty"`
}

// Submit handles POST /: the full registration pipeline. On success the
// stored record is returned.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, registry.Wrap(registry.KindMalformedJSON, err, "invalid request body"))
		return
	}
	if !req.AssetID.Valid() {
		respondError(c, registry.New(registry.KindMalformedJSON, "invalid asset id"))
		return
	}
	if len(req.Contract) == 0 {
		respondError(c, registry.New(registry.KindMissingField, "contract"))
		return
	}

	rec, err := h.db.Submit(c.Request.Context(), req.AssetID, req.Contract, req.ContractHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Delete handles DELETE /:asset_id.
func (h *Handler) Delete(c *gin.Context) {
	id := registry.AssetID(c.Param("asset_id"))

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, registry.Wrap(registry.KindMalformedJSON, err, "invalid request body"))
		return
	}
	if req.Signature == "" {
		respondError(c, registry.New(registry.KindMissingField, "signature"))
		return
	}

	if err := h.db.Delete(c.Request.Context(), id, req.Signature); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ValidateContract handles POST /contract/validate: parse and hash-match
// only, touching neither the chain, the domain, nor the database.
func (h *Handler) ValidateContract(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, registry.Wrap(registry.KindMalformedJSON, err, "invalid request body"))
		return
	}
	if len(req.Contract) == 0 {
		respondError(c, registry.New(registry.KindMissingField, "contract"))
		return
	}

	parsed, err := contract.Parse(req.Contract)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.ContractHash != "" {
		if err := parsed.MatchHash(req.ContractHash); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"contract_hash": parsed.HashHex()})
}

// GetAsset handles GET /:asset_id. Production reads go through the static
// file server; this endpoint serves development and the CLI.
func (h *Handler) GetAsset(c *gin.Context) {
	id := registry.AssetID(c.Param("asset_id"))
	rec, ok := h.db.Get(id)
	if !ok {
		respondError(c, registry.Newf(registry.KindNotFound, "no registered asset %s", id))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListAssets handles GET /.
func (h *Handler) ListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, h.db.List())
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetupRoutes configures the registry routes.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.HealthCheck)
	router.POST("/contract/validate", h.ValidateContract)
	router.POST("/", h.Submit)
	router.GET("/", h.ListAssets)
	router.GET("/:asset_id", h.GetAsset)
	router.DELETE("/:asset_id", h.Delete)
}
