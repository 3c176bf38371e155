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

// Package trdpcfg is the shared YAML configuration and session-opening
// plumbing for the trdppub/trdpsub/trdpstat demo binaries.
package trdpcfg

import (
	"fmt"
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/tcnopen/trdp-go/dataset"
	"github.com/tcnopen/trdp-go/trdp"
)

// Config is the on-disk shape for all three demo binaries. Fields a
// given binary doesn't need are simply left zero.
type Config struct {
	HostName  string        `yaml:"host_name"`
	OwnIP     string        `yaml:"own_ip"`
	LeaderIP  string        `yaml:"leader_ip"`
	CycleTime time.Duration `yaml:"cycle_time"`

	PDPort      int           `yaml:"pd_port"`
	PDTimeout   time.Duration `yaml:"pd_timeout"`
	MDUDPPort   int           `yaml:"md_udp_port"`
	MDTCPPort   int           `yaml:"md_tcp_port"`
	MDReplyTime time.Duration `yaml:"md_reply_timeout"`

	ComID   uint32 `yaml:"com_id"`
	DestIP  string `yaml:"dest_ip"`
	SrcIP   string `yaml:"src_ip"`
	RedID   uint32 `yaml:"red_id"`

	StatsFormat string `yaml:"stats_format"`
	StatsAddr   string `yaml:"stats_addr"`
}

// Default returns the built-in defaults, mirroring trdp.DefaultPDConfig
// and trdp.DefaultMDConfig.
func Default() *Config {
	return &Config{
		HostName:    "trdp-host",
		CycleTime:   10 * time.Millisecond,
		PDPort:      trdp.DefaultPDPort,
		PDTimeout:   time.Second,
		MDUDPPort:   trdp.DefaultMDPort,
		MDTCPPort:   trdp.DefaultMDPort,
		MDReplyTime: time.Second,
		StatsFormat: "json",
		StatsAddr:   ":8080",
	}
}

// ReadConfig reads and overlays a YAML config file onto the defaults.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return c, nil
}

// OpenSession opens a trdp.Session from the resolved config. comIDMap and
// reg may be nil; a nil registry means the binary only moves raw bytes,
// never a typed dataset.
func OpenSession(c *Config, reg *dataset.Registry, comIDMap dataset.ComIDMap) (*trdp.Session, error) {
	ownIP := net.ParseIP(c.OwnIP)
	if ownIP == nil {
		return nil, fmt.Errorf("own_ip %q does not parse", c.OwnIP)
	}
	var leaderIP net.IP
	if c.LeaderIP != "" {
		leaderIP = net.ParseIP(c.LeaderIP)
	}

	pdCfg := trdp.DefaultPDConfig()
	if c.PDPort != 0 {
		pdCfg.Port = c.PDPort
	}
	if c.PDTimeout != 0 {
		pdCfg.Timeout = c.PDTimeout
	}

	mdCfg := trdp.DefaultMDConfig()
	if c.MDUDPPort != 0 {
		mdCfg.UDPPort = c.MDUDPPort
	}
	if c.MDTCPPort != 0 {
		mdCfg.TCPPort = c.MDTCPPort
	}
	if c.MDReplyTime != 0 {
		mdCfg.ReplyTimeout = c.MDReplyTime
	}

	if reg == nil {
		reg = dataset.NewRegistry()
	}
	if comIDMap == nil {
		comIDMap = dataset.ComIDMap{}
	}

	return trdp.OpenSession(
		trdp.ProcessConfig{HostName: c.HostName, CycleTime: c.CycleTime},
		ownIP, leaderIP, pdCfg, mdCfg, reg, comIDMap,
	)
}
