/*
Copyright (c) The TRDP-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command trdpstat opens a session purely to drive its event loop and
// expose the session's statistics counters over HTTP, in either JSON or
// Prometheus exposition format.
package main

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tcnopen/trdp-go/cmd/internal/trdpcfg"
	"github.com/tcnopen/trdp-go/trdp"
)

var (
	cfgPath     string
	verbose     bool
	statsFormat string
	statsAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "trdpstat",
	Short: "serve a TRDP session's statistics over HTTP",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.Flags().StringVar(&statsFormat, "stats-format", "", "json or prometheus (overrides the config file)")
	rootCmd.Flags().StringVar(&statsAddr, "stats-addr", "", "address to serve statistics on (overrides the config file)")
}

func run(_ *cobra.Command, _ []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	c, err := trdpcfg.ReadConfig(cfgPath)
	if err != nil {
		return err
	}
	if statsFormat != "" {
		c.StatsFormat = statsFormat
	}
	if statsAddr != "" {
		c.StatsAddr = statsAddr
	}
	if c.OwnIP == "" {
		return fmt.Errorf("config must set own_ip")
	}

	s, err := trdpcfg.OpenSession(c, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.CloseSession() }()

	var handler http.Handler
	switch c.StatsFormat {
	case "prometheus":
		handler = trdp.PrometheusHandler(s)
	case "json", "":
		handler = s.JSONHandler()
	default:
		return fmt.Errorf("unknown stats-format %q", c.StatsFormat)
	}
	http.Handle("/stats", handler)

	log.Infof("trdpstat: serving %s statistics on %s/stats", c.StatsFormat, c.StatsAddr)
	go func() {
		if err := http.ListenAndServe(c.StatsAddr, nil); err != nil {
			log.Fatalf("trdpstat: http server: %v", err)
		}
	}()

	s.Start()
	for {
		s.Process(time.Second)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
