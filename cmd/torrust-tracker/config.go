package main

import (
	"errors"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/torrust/torrust-tracker/frontend/api"
	httpfrontend "github.com/torrust/torrust-tracker/frontend/http"
	udpfrontend "github.com/torrust/torrust-tracker/frontend/udp"
	"github.com/torrust/torrust-tracker/storage"
	"github.com/torrust/torrust-tracker/tracker"
)

// ConfigFile represents a namespaced YAML configuration file.
type ConfigFile struct {
	MainConfigBlock struct {
		tracker.Config `yaml:",inline"`
		PrometheusAddr string               `yaml:"prometheus_addr"`
		Database       storage.Config       `yaml:"database"`
		HTTPTrackers   []httpfrontend.Config `yaml:"http_trackers"`
		UDPTrackers    []udpfrontend.Config  `yaml:"udp_trackers"`
		HTTPAPI        *api.Config           `yaml:"http_api"`
	} `yaml:"torrust"`
}

// ParseConfigFile returns a new ConfigFile given the path to a YAML
// configuration file.
//
// It supports relative and absolute paths and environment variables.
func ParseConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, errors.New("no config path specified")
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var cfgFile ConfigFile
	if err := yaml.Unmarshal(contents, &cfgFile); err != nil {
		return nil, err
	}

	return &cfgFile, nil
}
