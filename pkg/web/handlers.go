package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/stocktracker/stockweb/pkg/stores"
)

// page is the data passed to every template.
type page struct {
	Title  string
	Nav    string
	Debug  bool
	Notice string
	Error  string
	Data   any
}

// watchForm is the body of POST /watchlist and /watchlist/remove.
type watchForm struct {
	Symbol   string           `validate:"required,max=64,printascii,excludesall=/?#"`
	Kind     stores.WatchKind `validate:"required,oneof=STOCK CRYPTO"`
	ReturnTo string           `validate:"omitempty,oneof=watchlist"`
}

const maxEventsLimit = 200

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, p page) {
	s.renderStatus(w, r, http.StatusOK, name, p)
}

func (s *Server) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	p.Debug = s.cfg.Debug

	var buf strings.Builder
	if err := s.templates.Render(&buf, name, p); err != nil {
		s.logger.Ctx(r.Context()).WithError(err).Error("Failed to render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", page{Title: "Home", Nav: "home"})
}

func (s *Server) handleCheckBackend(w http.ResponseWriter, r *http.Request) {
	state := s.views.Home.CheckBackend(r.Context())
	s.render(w, r, "home", page{Title: "Home", Nav: "home", Error: state.Error, Data: state})
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	state := s.views.Stocks.Load(r.Context(), SessionFromContext(r.Context()))
	p := page{Title: "Stocks", Nav: "stocks", Data: state}
	flash(&p, r.URL.Query())
	if state.Error != "" {
		p.Error = state.Error
	}
	s.render(w, r, "stocks", p)
}

func (s *Server) handleCrypto(w http.ResponseWriter, r *http.Request) {
	state := s.views.Crypto.Load(r.Context(), SessionFromContext(r.Context()))
	p := page{Title: "Crypto", Nav: "crypto", Data: state}
	flash(&p, r.URL.Query())
	if state.Error != "" {
		p.Error = state.Error
	}
	s.render(w, r, "crypto", p)
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	state := s.views.StockDetail.Load(r.Context(), symbol)
	s.render(w, r, "stock_detail", page{Title: symbol, Nav: "stocks", Error: state.Error, Data: state})
}

func (s *Server) handleCryptoDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(mux.Vars(r)["symbol"])
	state := s.views.CryptoDetail.Load(r.Context(), id)
	s.render(w, r, "crypto_detail", page{Title: id, Nav: "crypto", Error: state.Error, Data: state})
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	target := "/crypto"
	if symbol := mux.Vars(r)["symbol"]; symbol != "" {
		target += "/" + url.PathEscape(symbol)
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	state := s.views.WatchList.Load(r.Context(), SessionFromContext(r.Context()))
	p := page{Title: "Watch List", Nav: "watchlist", Data: state}
	flash(&p, r.URL.Query())
	if state.Error != "" {
		p.Error = state.Error
	}
	s.render(w, r, "watchlist", p)
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseWatchForm(w, r)
	if !ok {
		return
	}

	session := SessionFromContext(r.Context())
	var (
		added  bool
		symbol string
		failed bool
	)
	if form.Kind == stores.WatchKindCrypto {
		state := s.views.Crypto.AddToWatchList(r.Context(), session, form.Symbol)
		added, symbol, failed = state.Data.Added, state.Data.Symbol, state.Failed()
	} else {
		state := s.views.Stocks.AddToWatchList(r.Context(), session, form.Symbol)
		added, symbol, failed = state.Data.Added, state.Data.Symbol, state.Failed()
	}
	if symbol == "" {
		symbol = form.Symbol
	}

	target := "/stocks"
	if form.Kind == stores.WatchKindCrypto {
		target = "/crypto"
	}
	if form.ReturnTo == "watchlist" {
		target = "/watchlist"
	}

	q := url.Values{}
	switch {
	case failed:
		q.Set("failed", symbol)
	case added:
		q.Set("added", symbol)
	default:
		q.Set("present", symbol)
	}
	http.Redirect(w, r, target+"?"+q.Encode(), http.StatusSeeOther)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseWatchForm(w, r)
	if !ok {
		return
	}

	state := s.views.WatchList.Remove(r.Context(), SessionFromContext(r.Context()), form.Symbol, form.Kind)

	q := url.Values{}
	if state.Failed() {
		q.Set("failed_remove", form.Symbol)
	} else {
		q.Set("removed", form.Symbol)
	}
	http.Redirect(w, r, "/watchlist?"+q.Encode(), http.StatusSeeOther)
}

func (s *Server) parseWatchForm(w http.ResponseWriter, r *http.Request) (watchForm, bool) {
	if err := r.ParseForm(); err != nil {
		s.renderStatus(w, r, http.StatusBadRequest, "bad_request", page{Title: "Bad request", Error: "Invalid form."})
		return watchForm{}, false
	}

	form := watchForm{
		Symbol:   strings.TrimSpace(r.PostForm.Get("symbol")),
		Kind:     stores.WatchKind(strings.ToUpper(r.PostForm.Get("kind"))),
		ReturnTo: r.PostForm.Get("return_to"),
	}
	if err := s.validate.Struct(form); err != nil {
		s.renderStatus(w, r, http.StatusBadRequest, "bad_request", page{Title: "Bad request", Error: formError(err)})
		return watchForm{}, false
	}
	return form, true
}

func formError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("Invalid %s.", strings.ToLower(verrs[0].Field()))
	}
	return "Invalid form."
}

// flash turns the redirect query of a watch list action into a notice.
func flash(p *page, q url.Values) {
	switch {
	case q.Get("added") != "":
		p.Notice = fmt.Sprintf("%s added to watch list.", q.Get("added"))
	case q.Get("present") != "":
		p.Notice = fmt.Sprintf("%s is already on your watch list.", q.Get("present"))
	case q.Get("removed") != "":
		p.Notice = fmt.Sprintf("%s removed from watch list.", q.Get("removed"))
	case q.Get("failed") != "":
		p.Error = fmt.Sprintf("Failed to add %s to watch list.", q.Get("failed"))
	case q.Get("failed_remove") != "":
		p.Error = fmt.Sprintf("Failed to remove %s from watch list.", q.Get("failed_remove"))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	flushed := false
	if s.cfg.Flusher != nil {
		flushed = s.cfg.Flusher.Flush(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"flushed": flushed})
}

func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, []*stores.EventRecord{})
		return
	}

	q := r.URL.Query()
	limit := 50
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxEventsLimit)
	}
	var view *string
	if v := q.Get("view"); v != "" {
		view = &v
	}
	var level *stores.EventLevel
	if v := q.Get("level"); v != "" {
		l := stores.EventLevel(v)
		level = &l
	}

	events, err := s.deps.Store.GetEvents(r.Context(), view, level, limit, 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderStatus(w, r, http.StatusNotFound, "not_found", page{Title: "Not found"})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
