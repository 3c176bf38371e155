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

// Command trdppub cyclically publishes a fixed-size PD telegram on a
// comId, for exercising a subscriber or a bus analyzer.
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
	cfgPath    string
	verbose    bool
	payloadLen int
)

var rootCmd = &cobra.Command{
	Use:   "trdppub",
	Short: "publish a cyclic PD telegram",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.Flags().IntVar(&payloadLen, "payload-len", 16, "size in bytes of the payload sent each cycle")
}

func run(_ *cobra.Command, _ []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	c, err := trdpcfg.ReadConfig(cfgPath)
	if err != nil {
		return err
	}
	if c.ComID == 0 || c.DestIP == "" || c.OwnIP == "" {
		return fmt.Errorf("config must set com_id, dest_ip and own_ip")
	}

	s, err := trdpcfg.OpenSession(c, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.CloseSession() }()

	srcIP := net.ParseIP(c.SrcIP)
	pub, err := s.Publish(trdp.PublishParams{
		ComID:    c.ComID,
		SrcIP:    srcIP,
		DestIP:   net.ParseIP(c.DestIP),
		Interval: c.CycleTime,
		RedID:    c.RedID,
		Payload:  make([]byte, payloadLen),
	})
	if err != nil {
		return err
	}

	log.Infof("trdppub: publishing comId=%d to %s every %s", c.ComID, c.DestIP, c.CycleTime)

	var counter byte
	s.Start()
	for {
		payload := make([]byte, payloadLen)
		payload[0] = counter
		counter++
		if err := s.Put(pub, payload); err != nil {
			log.Warnf("trdppub: put: %v", err)
		}
		s.Process(c.CycleTime)
		time.Sleep(c.CycleTime)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
