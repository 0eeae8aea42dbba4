package web

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes builds the route table. Unknown paths render the 404 page through
// the same middleware as matched routes.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	mws := s.middleware()
	r.Use(mws...)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/check-backend", s.handleCheckBackend).Methods(http.MethodPost)

	r.HandleFunc("/stocks", s.handleStocks).Methods(http.MethodGet)
	r.HandleFunc("/stocks/{symbol}", s.handleStockDetail).Methods(http.MethodGet)

	r.HandleFunc("/crypto", s.handleCrypto).Methods(http.MethodGet)
	r.HandleFunc("/crypto/{symbol}", s.handleCryptoDetail).Methods(http.MethodGet)

	// Legacy alias of /crypto.
	r.HandleFunc("/coins", s.handleCoins).Methods(http.MethodGet)
	r.HandleFunc("/coins/{symbol}", s.handleCoins).Methods(http.MethodGet)

	r.HandleFunc("/watchlist", s.handleWatchList).Methods(http.MethodGet)
	r.HandleFunc("/watchlist", s.handleAddWatch).Methods(http.MethodPost)
	r.HandleFunc("/watchlist/remove", s.handleRemoveWatch).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.cfg.Debug {
		r.HandleFunc("/debug/telemetry/flush", s.handleFlush).Methods(http.MethodPost)
		r.HandleFunc("/debug/events", s.handleDebugEvents).Methods(http.MethodGet)
	}

	r.NotFoundHandler = chain(http.HandlerFunc(s.handleNotFound), mws...)
	r.MethodNotAllowedHandler = chain(http.HandlerFunc(s.handleMethodNotAllowed), mws...)

	return r
}
