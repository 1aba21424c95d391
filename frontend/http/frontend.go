// Package http implements a BitTorrent frontend via the HTTP protocol as
// described in BEP 3 and BEP 23.
package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/frontend"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/stop"
)

func init() {
	prometheus.MustRegister(promResponseDurationMilliseconds)
}

var promResponseDurationMilliseconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "torrust_tracker_http_response_duration_milliseconds",
		Help:    "The duration of time it takes to receive and write a response to an API request",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	},
	[]string{"action", "error"},
)

// recordResponseDuration records the duration of time to respond to a
// Request in milliseconds.
func recordResponseDuration(action string, err error, duration time.Duration) {
	var errString string
	if err != nil {
		errString = err.Error()
	}

	promResponseDurationMilliseconds.
		WithLabelValues(action, errString).
		Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}

// Config represents all of the configurable options for an HTTP BitTorrent
// Frontend.
type Config struct {
	Addr         string        `yaml:"bind_address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ParseOptions `yaml:",inline"`
}

// LogFields renders the current config as a set of logging fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"readTimeout":         cfg.ReadTimeout,
		"writeTimeout":        cfg.WriteTimeout,
		"realIPHeader":        cfg.RealIPHeader,
		"maxNumWant":          cfg.MaxNumWant,
		"defaultNumWant":      cfg.DefaultNumWant,
		"maxScrapeInfoHashes": cfg.MaxScrapeInfoHashes,
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

	if cfg.MaxNumWant <= 0 {
		validcfg.MaxNumWant = defaultMaxNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.MaxNumWant",
			"provided": cfg.MaxNumWant,
			"default":  validcfg.MaxNumWant,
		})
	}

	if cfg.DefaultNumWant <= 0 {
		validcfg.DefaultNumWant = defaultDefaultNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.DefaultNumWant",
			"provided": cfg.DefaultNumWant,
			"default":  validcfg.DefaultNumWant,
		})
	}

	if cfg.MaxScrapeInfoHashes <= 0 {
		validcfg.MaxScrapeInfoHashes = defaultMaxScrapeInfoHashes
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.MaxScrapeInfoHashes",
			"provided": cfg.MaxScrapeInfoHashes,
			"default":  validcfg.MaxScrapeInfoHashes,
		})
	}

	return validcfg
}

// Frontend holds the state of an HTTP BitTorrent Frontend.
type Frontend struct {
	srv      *http.Server
	listener net.Listener

	logic frontend.TrackerLogic
	Config
}

// NewFrontend creates a new instance of an HTTP Frontend that asynchronously
// serves requests. The listening socket is bound before NewFrontend returns;
// a bind failure is reported as an error so boot can fail loudly.
func NewFrontend(logic frontend.TrackerLogic, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		logic:  logic,
		Config: cfg,
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
	f.srv.SetKeepAlivesEnabled(false)

	go func() {
		if err := f.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed while serving http", log.Err(err))
		}
	}()

	log.Info("http tracker listening", cfg)
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
	router.GET("/announce", f.announceRoute)
	router.GET("/announce/:key", f.announceRoute)
	router.GET("/scrape", f.scrapeRoute)
	router.GET("/scrape/:key", f.scrapeRoute)
	return router
}

// announceRoute parses and responds to an Announce.
func (f *Frontend) announceRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var err error
	start := time.Now()
	defer func() { recordResponseDuration("announce", err, time.Since(start)) }()

	var req *bittorrent.AnnounceRequest
	req, err = ParseAnnounce(r, ps.ByName("key"), f.ParseOptions)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	var resp *bittorrent.AnnounceResponse
	resp, err = f.logic.HandleAnnounce(r.Context(), req)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	if err = WriteAnnounceResponse(w, resp); err != nil {
		_ = WriteError(w, err)
	}
}

// scrapeRoute parses and responds to a Scrape.
func (f *Frontend) scrapeRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var err error
	start := time.Now()
	defer func() { recordResponseDuration("scrape", err, time.Since(start)) }()

	var req *bittorrent.ScrapeRequest
	req, err = ParseScrape(r, ps.ByName("key"), f.ParseOptions)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	var resp *bittorrent.ScrapeResponse
	resp, err = f.logic.HandleScrape(r.Context(), req)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	if err = WriteScrapeResponse(w, resp); err != nil {
		_ = WriteError(w, err)
	}
}
