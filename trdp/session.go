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

package trdp

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tcnopen/trdp-go/dataset"
	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

// Default ports, spec §6.1.
const (
	DefaultPDPort  = 17224
	DefaultMDPort  = 17225
	defaultArenaSize = 1 << 20
)

// ProcessConfig holds the per-process defaults spec §4.4 lists: host
// identity, cycle time, scheduling priority, and the blocking/polling and
// traffic-shaping flags. The session stores them; the event loop does not
// read CycleTime, Priority, Blocking or TrafficShaping.
type ProcessConfig struct {
	HostName       string
	LeaderName     string
	CycleTime      time.Duration
	Priority       int
	Blocking       bool
	TrafficShaping bool
}

// PDConfig holds PD defaults (spec §4.4, §6.2).
type PDConfig struct {
	QoS               int
	TTL               int
	Flags             uint32
	Timeout           time.Duration
	TimeoutBehaviour  TimeoutBehaviour
	Port              int
}

// MDConfig holds MD defaults (spec §4.4, §6.2).
type MDConfig struct {
	QoS            int
	TTL            int
	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
	ConnectTimeout time.Duration
	UDPPort        int
	TCPPort        int
	MaxSessions    int
}

// DefaultPDConfig returns the spec's PD port/timeout defaults.
func DefaultPDConfig() PDConfig {
	return PDConfig{TTL: 64, Timeout: time.Second, Port: DefaultPDPort}
}

// DefaultMDConfig returns the spec's MD port/timeout defaults.
func DefaultMDConfig() MDConfig {
	return MDConfig{
		TTL:            64,
		ReplyTimeout:   time.Second,
		ConfirmTimeout: time.Second,
		ConnectTimeout: 5 * time.Second,
		UDPPort:        DefaultMDPort,
		TCPPort:        DefaultMDPort,
		MaxSessions:    64,
	}
}

var (
	globalMu    sync.Mutex
	globalArena *vos.Arena
)

// Init acquires the one process-wide resource this stack needs: a shared
// memory arena, per spec §9 ("if the platform genuinely requires
// process-wide state ... confine it to one named resource acquired in
// init and released in terminate"). Calling Init is optional; a Session
// opened without it gets its own private arena.
func Init(arenaSize int) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalArena = vos.NewArena(int64(arenaSize))
}

// Terminate releases the process-wide arena acquired by Init.
func Terminate() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalArena = nil
}

// Session is the per-host engine instance (spec §4.4): configuration,
// socket pool, publisher/subscriber/listener vectors, the MD session
// table, and statistics. All mutation happens on the goroutine calling
// Process, or under mu when an API call reaches in from elsewhere (spec
// §5 "Shared-resource policy").
type Session struct {
	mu sync.Mutex

	procCfg ProcessConfig
	pdCfg   PDConfig
	mdCfg   MDConfig

	ownIP    net.IP
	leaderIP net.IP
	topo     frame.TopoCounts

	registry *dataset.Registry
	comIDMap dataset.ComIDMap
	arena    *vos.Arena
	clock    vos.Clock
	mac      net.HardwareAddr

	pdSocket      *vos.UDPSocket
	mdUDPSocket   *vos.UDPSocket
	mdTCPListener *vos.TCPListener
	mdConns       map[string]*mdConn

	publishers   []*Publisher
	subscribers  []*Subscriber
	listeners    []*Listener
	redundancy   map[uint32]RedundancyState
	mdSessions   map[SessionUUID]*mdTransaction
	deadlines    *deadlineQueue

	stats *Stats

	// pendingEvents accumulates delivery notifications for subscribers and
	// listeners registered without a callback, drained by Process for
	// hosts that prefer a pull model (spec §9 "Callbacks").
	pendingEvents []Event

	// Receive-side plumbing for Process (eventloop.go): each socket has a
	// dedicated reader goroutine feeding a bounded channel, so Process can
	// select across all of them plus the deadline timer without blocking
	// a socket read against the others.
	pdRecvCh    chan pdDatagram
	mdUDPRecvCh chan pdDatagram
	mdTCPRecvCh chan mdStreamChunk
	stopCh      chan struct{}
	started     bool

	nextPublisherID  int
	nextSubscriberID int
	nextListenerID   int

	closed bool
}

// OpenSession opens the UDP/TCP sockets PD and MD need and returns a
// ready-to-use Session (spec §4.4, §6.2).
func OpenSession(procCfg ProcessConfig, ownIP, leaderIP net.IP, pdCfg PDConfig, mdCfg MDConfig, reg *dataset.Registry, comIDMap dataset.ComIDMap) (*Session, error) {
	if ownIP == nil {
		return nil, vos.NewError(vos.KindParam, "OpenSession", fmt.Errorf("ownIP is required"))
	}
	mac, err := vos.PrimaryMAC()
	if err != nil {
		return nil, vos.NewError(vos.KindInit, "OpenSession", err)
	}

	globalMu.Lock()
	arena := globalArena
	globalMu.Unlock()
	if arena == nil {
		arena = vos.NewArena(defaultArenaSize)
	}

	s := &Session{
		procCfg:    procCfg,
		pdCfg:      pdCfg,
		mdCfg:      mdCfg,
		ownIP:      ownIP,
		leaderIP:   leaderIP,
		registry:   reg,
		comIDMap:   comIDMap,
		arena:      arena,
		clock:      vos.NewSystemClock(),
		mac:        mac,
		mdConns:    make(map[string]*mdConn),
		redundancy: make(map[uint32]RedundancyState),
		mdSessions: make(map[SessionUUID]*mdTransaction),
		deadlines:  newDeadlineQueue(),
		stats:      newStats(),
	}

	pdSocket, err := vos.OpenUDP(&net.UDPAddr{IP: net.IPv4zero, Port: pdCfg.Port})
	if err != nil {
		return nil, err
	}
	s.pdSocket = pdSocket
	if err := pdSocket.SetOptions(vos.SockOptions{QoS: pdCfg.QoS, TTL: pdCfg.TTL, ReuseAddr: true}); err != nil {
		log.Warnf("OpenSession: PD socket options: %v", err)
	}
	if pdCfg.Port == 0 {
		s.pdCfg.Port = pdSocket.LocalAddr().Port
	}

	mdUDP, err := vos.OpenUDP(&net.UDPAddr{IP: net.IPv4zero, Port: mdCfg.UDPPort})
	if err != nil {
		s.closeSocketsLocked()
		return nil, err
	}
	s.mdUDPSocket = mdUDP
	if err := mdUDP.SetOptions(vos.SockOptions{QoS: mdCfg.QoS, TTL: mdCfg.TTL, ReuseAddr: true}); err != nil {
		log.Warnf("OpenSession: MD UDP socket options: %v", err)
	}
	if mdCfg.UDPPort == 0 {
		s.mdCfg.UDPPort = mdUDP.LocalAddr().Port
	}

	mdTCP, err := vos.OpenTCPListener(&net.TCPAddr{IP: net.IPv4zero, Port: mdCfg.TCPPort})
	if err != nil {
		s.closeSocketsLocked()
		return nil, err
	}
	s.mdTCPListener = mdTCP
	if mdCfg.TCPPort == 0 {
		s.mdCfg.TCPPort = mdTCP.LocalAddr().Port
	}

	return s, nil
}

func (s *Session) closeSocketsLocked() {
	if s.pdSocket != nil {
		_ = s.pdSocket.Close()
	}
	if s.mdUDPSocket != nil {
		_ = s.mdUDPSocket.Close()
	}
	if s.mdTCPListener != nil {
		_ = s.mdTCPListener.Close()
	}
	for _, c := range s.mdConns {
		_ = c.conn.Close()
	}
}

// CloseSession releases every resource the session owns (spec §4.4).
func (s *Session) CloseSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vos.NewError(vos.KindNoInit, "CloseSession", fmt.Errorf("session already closed"))
	}
	s.closeSocketsLocked()
	s.closed = true
	return nil
}

// Now returns the session's monotonic clock reading.
func (s *Session) Now() vos.TimeSpec { return s.clock.Now() }

// SetTopoCounts pins the locally expected topo counts used to reject
// stale frames from a previous train inauguration (spec §3.1).
func (s *Session) SetTopoCounts(t frame.TopoCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topo = t
}
