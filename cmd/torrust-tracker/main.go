package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/torrust/torrust-tracker/frontend/api"
	httpfrontend "github.com/torrust/torrust-tracker/frontend/http"
	udpfrontend "github.com/torrust/torrust-tracker/frontend/udp"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/stop"
	"github.com/torrust/torrust-tracker/storage"
	"github.com/torrust/torrust-tracker/tracker"

	// Databases
	_ "github.com/torrust/torrust-tracker/storage/memory"
	_ "github.com/torrust/torrust-tracker/storage/mysql"
	_ "github.com/torrust/torrust-tracker/storage/sqlite"
)

// Run executes the tracker with the given configuration until a shutdown
// signal arrives.
func Run(configFilePath string) error {
	configFile, err := ParseConfigFile(configFilePath)
	if err != nil {
		return errors.New("failed to read config: " + err.Error())
	}
	cfg := configFile.MainConfigBlock

	db, err := storage.NewDatabase(cfg.Database)
	if err != nil {
		return errors.New("failed to open database: " + err.Error())
	}

	tkr, err := tracker.New(cfg.Config, db, nil)
	if err != nil {
		_ = db.Close()
		return errors.New("failed to create tracker: " + err.Error())
	}

	// Every listener binds its socket before its constructor returns, so a
	// bind failure aborts boot; listeners started before it are stopped.
	group := stop.NewGroup()
	group.Add(tkr)

	for _, udpCfg := range cfg.UDPTrackers {
		fe, err := udpfrontend.NewFrontend(tkr, udpCfg)
		if err != nil {
			group.Stop()
			return errors.New("failed to start udp tracker: " + err.Error())
		}
		group.Add(fe)
	}

	for _, httpCfg := range cfg.HTTPTrackers {
		fe, err := httpfrontend.NewFrontend(tkr, httpCfg)
		if err != nil {
			group.Stop()
			return errors.New("failed to start http tracker: " + err.Error())
		}
		group.Add(fe)
	}

	if cfg.HTTPAPI != nil {
		fe, err := api.NewFrontend(tkr, *cfg.HTTPAPI)
		if err != nil {
			group.Stop()
			return errors.New("failed to start management api: " + err.Error())
		}
		group.Add(fe)
	}

	if cfg.PrometheusAddr != "" {
		srv := &http.Server{Addr: cfg.PrometheusAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("failed while serving prometheus", log.Err(err))
			}
		}()
		group.AddFunc(func() stop.Result {
			c := make(stop.Channel)
			go func() { c.Done(srv.Close()) }()
			return c.Result()
		})
		log.Info("prometheus listening", log.Fields{"addr": cfg.PrometheusAddr})
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("shutting down")
	if errs := group.Stop(); len(errs) != 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return errors.New("failed to shutdown: " + strings.Join(msgs, "; "))
	}
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "torrust-tracker",
		Short: "BitTorrent Tracker",
		Long:  "A customizable, multi-protocol BitTorrent Tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonLog, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			if jsonLog {
				log.SetFormatter(&logrus.JSONFormatter{})
			}

			debugLog, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return err
			}
			if debugLog {
				log.SetDebug(true)
				log.Debug("debug logging enabled")
			}

			configFilePath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			return Run(configFilePath)
		},
	}
	rootCmd.Flags().String("config", "/etc/torrust-tracker.yaml", "location of configuration file")
	rootCmd.Flags().Bool("debug", false, "enable debug logging")
	rootCmd.Flags().Bool("json", false, "enable json logging")

	e2eCmd := &cobra.Command{
		Use:   "e2e",
		Short: "exec e2e tests",
		Long:  "Execute the end-to-end test suite for a running tracker",
		RunE:  EndToEndRunCmdFunc,
	}
	e2eCmd.Flags().String("httpaddr", "http://127.0.0.1:7070/announce", "address of the HTTP tracker to check")
	e2eCmd.Flags().String("udpaddr", "udp://127.0.0.1:6969", "address of the UDP tracker to check")
	e2eCmd.Flags().Duration("delay", 0, "delay between announces")
	rootCmd.AddCommand(e2eCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal("failed when executing root cobra command: " + err.Error())
	}
}
