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

// Command trdpsub subscribes to a comId and prints every PD telegram and
// liveness timeout it receives, for exercising a publisher.
package main

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tcnopen/trdp-go/cmd/internal/trdpcfg"
	"github.com/tcnopen/trdp-go/trdp"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "trdpsub",
	Short: "subscribe to and print a cyclic PD telegram",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func printEvent(e trdp.Event) {
	switch e.Kind {
	case trdp.EventPDReceived:
		fmt.Printf("comId=%d src=%s payload=%x\n", e.ComID, e.SrcIP, e.Payload)
	case trdp.EventPDTimeout:
		fmt.Printf("comId=%d TIMED OUT\n", e.ComID)
	}
}

func run(_ *cobra.Command, _ []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	c, err := trdpcfg.ReadConfig(cfgPath)
	if err != nil {
		return err
	}
	if c.ComID == 0 || c.OwnIP == "" {
		return fmt.Errorf("config must set com_id and own_ip")
	}

	s, err := trdpcfg.OpenSession(c, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.CloseSession() }()

	var destIP net.IP
	if c.DestIP != "" {
		destIP = net.ParseIP(c.DestIP)
	}
	if _, err := s.Subscribe(trdp.SubscribeParams{
		ComID:     c.ComID,
		DestIP:    destIP,
		Timeout:   c.PDTimeout,
		Behaviour: trdp.TimeoutZero,
		Callback:  printEvent,
	}); err != nil {
		return err
	}

	log.Infof("trdpsub: listening for comId=%d", c.ComID)

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
