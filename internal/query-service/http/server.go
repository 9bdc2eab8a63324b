package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/auth"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/cache"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/dto"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/repo"
)

// API expõe os endpoints REST de consulta da projeção (pots, compradores,
// vencedores) e o surface mínimo de auth por cookie JWT
type API struct {
	ReadRepo *repo.ReadRepo // acesso ao banco de dados
	Cache    *cache.Cache   // snapshot de pot mantido pelo settlement-worker
	Auth     *auth.Service
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/pots", a.listPots)                  // Lista pots com últimos vencedores
	r.Get("/v1/pots/{pot}", a.getPot)              // Um pot (cache-first)
	r.Get("/v1/pots/{pot}/buyers", a.listBuyers)   // Compradores de uma rodada
	r.Get("/v1/winners", a.listWinners)            // Histórico de payouts
	r.Get("/auth/login", a.Auth.LoginHandler)      // Emite cookie JWT
	r.Get("/auth/me", a.Auth.MeHandler)            // Claims do cookie
	r.Get("/auth/logout", a.Auth.LogoutHandler)    // Limpa o cookie
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pagination lê page/limit da query string com defaults 1/10
func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return page, limit
}

// listPots retorna pots paginados, com até 10 vencedores recentes cada
func (a *API) listPots(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	pots, err := a.ReadRepo.ListPots(r.Context(), r.URL.Query().Get("pot"), page, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch pots"})
		return
	}
	if pots == nil {
		pots = []dto.Pot{}
	}
	writeJSON(w, http.StatusOK, pots)
}

// getPot retorna a projeção corrente de um pot, preferencialmente do cache
func (a *API) getPot(w http.ResponseWriter, r *http.Request) {
	potAddr := chi.URLParam(r, "pot")

	var fromCache dto.Pot
	if ok, _ := a.Cache.GetPot(r.Context(), potAddr, &fromCache); ok {
		writeJSON(w, http.StatusOK, fromCache)
		return
	}

	pot, err := a.ReadRepo.GetPot(r.Context(), potAddr)
	if err != nil {
		if err == sql.ErrNoRows {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "pot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch pot"})
		return
	}

	_ = a.Cache.SetPot(r.Context(), potAddr, pot, 30*time.Second) // salva no cache por 30s
	writeJSON(w, http.StatusOK, pot)
}

// listBuyers retorna os compradores de uma rodada (default: rodada corrente)
func (a *API) listBuyers(w http.ResponseWriter, r *http.Request) {
	potAddr := chi.URLParam(r, "pot")
	page, limit := pagination(r)

	var round int64
	if v := r.URL.Query().Get("round"); v != "" {
		round, _ = strconv.ParseInt(v, 10, 64)
	}

	buyers, err := a.ReadRepo.ListBuyers(r.Context(), potAddr, round, page, limit)
	if err != nil {
		if err == sql.ErrNoRows {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "pot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch buyers"})
		return
	}
	if buyers == nil {
		buyers = []dto.Buyer{}
	}

	writeJSON(w, http.StatusOK, dto.BuyersPage{
		Page:   page,
		Limit:  limit,
		Total:  len(buyers),
		Buyers: buyers,
	})
}

// listWinners retorna o histórico de payouts, mais recentes primeiro
func (a *API) listWinners(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	winners, err := a.ReadRepo.ListWinners(r.Context(), r.URL.Query().Get("pot"), page, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch winners"})
		return
	}
	if winners == nil {
		winners = []dto.Payout{}
	}
	writeJSON(w, http.StatusOK, winners)
}
