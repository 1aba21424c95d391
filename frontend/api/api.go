// Package api implements the management HTTP API of the tracker: swarm
// statistics, torrent listings, and operator control over auth keys and the
// whitelist.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/stop"
	"github.com/torrust/torrust-tracker/tracker"
)

// defaultListLimit is the page size for torrent listings when the client
// does not provide one.
const defaultListLimit = 200

// Config represents all of the configurable options for the management API.
type Config struct {
	Addr string `yaml:"bind_address"`

	// AccessTokens maps token names to token values. Every request must
	// carry a known value in its "token" query parameter.
	AccessTokens map[string]string `yaml:"access_tokens"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogFields renders the current config as a set of logging fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":         cfg.Addr,
		"accessTokens": len(cfg.AccessTokens),
		"readTimeout":  cfg.ReadTimeout,
		"writeTimeout": cfg.WriteTimeout,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ReadTimeout <= 0 {
		validcfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		validcfg.WriteTimeout = 5 * time.Second
	}
	if len(cfg.AccessTokens) == 0 {
		log.Warn("api: no access tokens configured, every request will be rejected")
	}

	return validcfg
}

// Frontend serves the management API for one tracker.
type Frontend struct {
	srv      *http.Server
	listener net.Listener

	tracker *tracker.Tracker
	Config
}

// NewFrontend creates a new instance of the management API. The listening
// socket is bound before NewFrontend returns; a bind failure is reported as
// an error so boot can fail loudly.
func NewFrontend(tkr *tracker.Tracker, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		tracker: tkr,
		Config:  cfg,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	f.listener = listener

	f.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      f.handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		if err := f.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed while serving api", log.Err(err))
		}
	}()

	log.Info("management api listening", cfg)
	return f, nil
}

// Stop provides a thread-safe way to shutdown a currently running Frontend.
func (f *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Done(f.srv.Shutdown(ctx))
	}()

	return c.Result()
}

// LocalAddr returns the address the listening socket is bound to.
func (f *Frontend) LocalAddr() net.Addr {
	return f.listener.Addr()
}

func (f *Frontend) handler() http.Handler {
	router := httprouter.New()
	router.GET("/api/stats", f.auth(f.statsRoute))
	router.GET("/api/torrents", f.auth(f.torrentsRoute))
	router.GET("/api/torrent/:infohash", f.auth(f.torrentRoute))
	router.POST("/api/whitelist/:infohash", f.auth(f.whitelistAddRoute))
	router.DELETE("/api/whitelist/:infohash", f.auth(f.whitelistRemoveRoute))
	router.GET("/api/whitelist/reload", f.auth(f.whitelistReloadRoute))
	router.POST("/api/key/:lifetime", f.auth(f.keyAddRoute))
	router.DELETE("/api/key/:key", f.auth(f.keyRemoveRoute))
	router.GET("/api/keys/reload", f.auth(f.keysReloadRoute))
	return router
}

// auth rejects requests that do not carry a configured access token.
func (f *Frontend) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.URL.Query().Get("token")
		if token != "" {
			for _, valid := range f.AccessTokens {
				if token == valid {
					h(w, r, ps)
					return
				}
			}
		}
		writeError(w, http.StatusUnauthorized, "access denied")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("api: failed to write response", log.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Torrents  uint32 `json:"torrents"`
	Seeders   uint32 `json:"seeders"`
	Leechers  uint32 `json:"leechers"`
	Completed uint32 `json:"completed"`
	Keys      int    `json:"keys"`
	Whitelist int    `json:"whitelist"`
	Mode      string `json:"mode"`
}

type torrentResponse struct {
	InfoHash  string `json:"info_hash"`
	Seeders   uint32 `json:"seeders"`
	Completed uint32 `json:"completed"`
	Leechers  uint32 `json:"leechers"`
}

func (f *Frontend) statsRoute(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	count, stats := f.tracker.Torrents().Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Torrents:  count,
		Seeders:   stats.Seeders,
		Leechers:  stats.Leechers,
		Completed: stats.Completed,
		Keys:      f.tracker.Keys().Count(),
		Whitelist: f.tracker.Whitelist().Count(),
		Mode:      string(f.tracker.Mode()),
	})
}

func (f *Frontend) torrentsRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	torrents := f.tracker.Torrents().GetTorrents(offset, limit)
	out := make([]torrentResponse, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, torrentResponse{
			InfoHash:  t.InfoHash.String(),
			Seeders:   t.Seeders,
			Completed: t.Completed,
			Leechers:  t.Leechers,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *Frontend) torrentRoute(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	ih, err := bittorrent.InfoHashFromHex(ps.ByName("infohash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid infohash")
		return
	}

	t, ok := f.tracker.Torrents().GetTorrent(ih)
	if !ok {
		writeError(w, http.StatusNotFound, "torrent not found")
		return
	}
	writeJSON(w, http.StatusOK, torrentResponse{
		InfoHash:  t.InfoHash.String(),
		Seeders:   t.Seeders,
		Completed: t.Completed,
		Leechers:  t.Leechers,
	})
}

func (f *Frontend) whitelistAddRoute(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	ih, err := bittorrent.InfoHashFromHex(ps.ByName("infohash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid infohash")
		return
	}

	if err := f.tracker.Whitelist().Add(ih); err != nil {
		log.Error("api: failed to whitelist infohash", log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to whitelist infohash")
		return
	}
	writeOK(w)
}

func (f *Frontend) whitelistRemoveRoute(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	ih, err := bittorrent.InfoHashFromHex(ps.ByName("infohash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid infohash")
		return
	}

	if err := f.tracker.Whitelist().Remove(ih); err != nil {
		writeError(w, http.StatusNotFound, "infohash not whitelisted")
		return
	}
	writeOK(w)
}

func (f *Frontend) whitelistReloadRoute(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := f.tracker.Whitelist().Reload(); err != nil {
		log.Error("api: failed to reload whitelist", log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to reload whitelist")
		return
	}
	writeOK(w)
}

type keyResponse struct {
	Key        string `json:"key"`
	ValidUntil int64  `json:"valid_until,omitempty"`
}

func (f *Frontend) keyAddRoute(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	seconds, err := strconv.ParseInt(ps.ByName("lifetime"), 10, 64)
	if err != nil || seconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid key lifetime")
		return
	}

	k, err := f.tracker.Keys().Generate(time.Duration(seconds) * time.Second)
	if err != nil {
		log.Error("api: failed to generate key", log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to generate key")
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{Key: k.Key, ValidUntil: k.ValidUntil})
}

func (f *Frontend) keyRemoveRoute(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if err := f.tracker.Keys().Remove(ps.ByName("key")); err != nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeOK(w)
}

func (f *Frontend) keysReloadRoute(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := f.tracker.Keys().Reload(); err != nil {
		log.Error("api: failed to reload keys", log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to reload keys")
		return
	}
	writeOK(w)
}
