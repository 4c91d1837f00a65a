package liveshare

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/pkg/types"
)

const h264ClockRate = 90000

// peer is one connected live-share viewer.
type peer struct {
	id         string
	conn       *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	sampleChan chan types.MediaSample
	closeChan  chan struct{}
}

// Server relays the camera's H.264 stream to browser peers so the owner can
// check on the pet when an alert arrives. Completely optional: the alert
// engine works without any peer connected.
type Server struct {
	mu       sync.RWMutex
	peers    map[string]*peer
	config   webrtc.Configuration
	maxPeers int
	api      *webrtc.API
	metrics  *metrics.Metrics
}

// NewServer creates a live-share server. m may be nil.
func NewServer(stunServers []string, maxPeers int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("LiveShare", "Failed to register codecs: %v", err)
	}

	return &Server{
		peers: make(map[string]*peer),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxPeers: maxPeers,
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingEngine),
			webrtc.WithMediaEngine(mediaEngine),
		),
		metrics: m,
	}
}

// HandleOffer negotiates a new peer from an SDP offer and returns the answer.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	s.mu.RLock()
	numPeers := len(s.peers)
	s.mu.RUnlock()
	if numPeers >= s.maxPeers {
		return nil, fmt.Errorf("maximum live-share peers reached (%d)", s.maxPeers)
	}

	conn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: h264ClockRate,
		},
		"video",
		"dogsight",
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	rtpSender, err := conn.AddTrack(videoTrack)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()

	p := &peer{
		id:         uuid.NewString(),
		conn:       conn,
		videoTrack: videoTrack,
		sampleChan: make(chan types.MediaSample, 30),
		closeChan:  make(chan struct{}),
	}

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("LiveShare", "Peer %s state: %s", p.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.removePeer(p.id)
		}
	})

	if err := conn.SetRemoteDescription(offer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := conn.CreateAnswer(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(conn)
	if err := conn.SetLocalDescription(answer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.mu.Lock()
	s.peers[p.id] = p
	peerCount := len(s.peers)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.LiveClients.Store(uint64(peerCount))
	}

	go s.relaySamples(p)
	logger.Info("LiveShare", "Peer %s connected (%d total)", p.id, peerCount)

	localDesc := conn.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("no local description available")
	}
	return json.Marshal(localDesc)
}

// SendSample fans one H.264 access unit out to all peers. Non-blocking; a
// slow peer drops samples instead of stalling the ingest loop.
func (s *Server) SendSample(sample types.MediaSample) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.peers {
		select {
		case p.sampleChan <- sample:
			if s.metrics != nil {
				s.metrics.LiveSamplesRelayed.Add(1)
			}
		default:
			if s.metrics != nil {
				s.metrics.LiveSamplesDropped.Add(1)
			}
		}
	}
}

func (s *Server) relaySamples(p *peer) {
	for {
		select {
		case <-p.closeChan:
			return
		case sample, ok := <-p.sampleChan:
			if !ok {
				return
			}
			err := p.videoTrack.WriteSample(media.Sample{
				Data:     sample.Data,
				Duration: time.Second / 30,
			})
			if err != nil {
				if err != io.ErrClosedPipe {
					logger.Warn("LiveShare", "Write error for peer %s: %v", p.id, err)
				}
				return
			}
		}
	}
}

func (s *Server) removePeer(id string) {
	s.mu.Lock()
	p, exists := s.peers[id]
	if exists {
		close(p.closeChan)
		p.conn.Close()
		delete(s.peers, id)
	}
	peerCount := len(s.peers)
	s.mu.Unlock()

	if !exists {
		return
	}
	if s.metrics != nil {
		s.metrics.LiveClients.Store(uint64(peerCount))
	}
	logger.Info("LiveShare", "Peer %s disconnected (%d remaining)", id, peerCount)
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Close disconnects all peers.
func (s *Server) Close() error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.removePeer(id)
	}
	return nil
}
