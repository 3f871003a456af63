package handlers

import (
	"net/http"

	"studio/internal/domain"
)

type creditsResponse struct {
	Image  int `json:"image"`
	Video  int `json:"video"`
	Legacy int `json:"legacy"`
}

func (a *App) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balances, err := a.Credits.Balances(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balances")
		return
	}
	a.json(w, http.StatusOK, creditsResponse{
		Image:  balances[domain.PoolImage],
		Video:  balances[domain.PoolVideo],
		Legacy: balances[domain.PoolLegacy],
	})
}
