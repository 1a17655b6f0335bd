package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voicelane/voicelane/pkg/catalog"
)

// CatalogHandler serves the store and product management endpoints that
// back voice grounding. Routes are registered with method+wildcard
// patterns; see Register.
type CatalogHandler struct {
	Repo catalog.Repository
}

func (h CatalogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/stores", h.createStore)
	mux.HandleFunc("GET /v1/stores", h.listStores)
	mux.HandleFunc("GET /v1/stores/{id}", h.getStore)
	mux.HandleFunc("GET /v1/stores/{id}/products", h.listStoreProducts)
	mux.HandleFunc("POST /v1/products", h.createProduct)
	mux.HandleFunc("GET /v1/products/{id}", h.getProduct)
	mux.HandleFunc("PUT /v1/products/{id}", h.updateProduct)
	mux.HandleFunc("DELETE /v1/products/{id}", h.deleteProduct)
	mux.HandleFunc("POST /v1/products/scan", h.scanProduct)
}

func (h CatalogHandler) createStore(w http.ResponseWriter, r *http.Request) {
	var s catalog.Store
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		badRequest(w, r, "invalid JSON body", "")
		return
	}
	if s.Name == "" {
		badRequest(w, r, "name is required", "name")
		return
	}
	created, err := h.Repo.CreateStore(r.Context(), s)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h CatalogHandler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.Repo.ListStores(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
}

func (h CatalogHandler) getStore(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.GetStore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h CatalogHandler) listStoreProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Repo.ListStoreProducts(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h CatalogHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, r, "invalid JSON body", "")
		return
	}
	if p.StoreID == "" {
		badRequest(w, r, "store_id is required", "store_id")
		return
	}
	if p.Name == "" {
		badRequest(w, r, "name is required", "name")
		return
	}
	created, err := h.Repo.CreateProduct(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Repo.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h CatalogHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, r, "invalid JSON body", "")
		return
	}
	p.ID = r.PathValue("id")
	updated, err := h.Repo.UpdateProduct(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h CatalogHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scanProduct resolves a shelf barcode to the product it identifies,
// the lookup a kiosk performs when a shopper scans an item.
func (h CatalogHandler) scanProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID     string `json:"store_id"`
		ProductCode string `json:"product_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid JSON body", "")
		return
	}
	if req.StoreID == "" {
		badRequest(w, r, "store_id is required", "store_id")
		return
	}
	if req.ProductCode == "" {
		badRequest(w, r, "product_code is required", "product_code")
		return
	}
	p, err := h.Repo.ScanProduct(r.Context(), req.StoreID, req.ProductCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
