// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// sfuMessage is one frame of the SFU websocket protocol.
type sfuMessage struct {
	Type         string                   `json:"type"`
	Room         string                   `json:"room,omitempty"`
	Token        string                   `json:"token,omitempty"`
	Identity     string                   `json:"identity,omitempty"`
	Participants []string                 `json:"participants,omitempty"`
	SDP          string                   `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Message      string                   `json:"message,omitempty"`
}

// PionProvider joins rooms on a websocket-signaled SFU with one
// PeerConnection per room.
type PionProvider struct {
	URL            string
	ICEServers     []string
	SkipCertVerify bool
	Codecs         Capturer
}

func (p *PionProvider) Connect(ctx context.Context, room, token string, opts ConnectOptions) (Conn, error) {
	logger := slog.With("component", "media", "room", room, "identity", opts.Identity)

	dialer := websocket.Dialer{HandshakeTimeout: constants.MediaJoinTimeout}
	if u, _ := url.Parse(p.URL); u != nil && u.Scheme == "wss" && p.SkipCertVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ws, _, err := dialer.DialContext(ctx, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing media provider: %w", err)
	}

	c := &pionConn{
		ws:     ws,
		events: make(chan Event, constants.SignalQueueSize),
		closed: make(chan struct{}),
		logger: logger,
	}

	if err := c.join(ctx, room, token, opts.Identity); err != nil {
		ws.Close()
		return nil, err
	}

	if err := c.setupPeer(p, opts.Tracks); err != nil {
		c.Close()
		return nil, err
	}

	go c.readLoop()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	if err := c.send(sfuMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		c.Close()
		return nil, fmt.Errorf("sending offer: %w", err)
	}

	logger.Info("joined media room", "participants", len(c.roster))
	return c, nil
}

type pionConn struct {
	ws   *websocket.Conn
	wsMu sync.Mutex
	pc   *webrtc.PeerConnection

	roster []string
	events chan Event

	closeOnce sync.Once
	downOnce  sync.Once
	closed    chan struct{}

	logger *slog.Logger
}

func (c *pionConn) join(ctx context.Context, room, token, identity string) error {
	if err := c.send(sfuMessage{Type: "join", Room: room, Token: token, Identity: identity}); err != nil {
		return fmt.Errorf("sending join: %w", err)
	}

	deadline := time.Now().Add(constants.MediaJoinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		var m sfuMessage
		if err := c.ws.ReadJSON(&m); err != nil {
			return fmt.Errorf("awaiting join confirmation: %w", err)
		}
		switch m.Type {
		case "joined":
			c.roster = m.Participants
			return nil
		case "error":
			return fmt.Errorf("%w: %s", ErrJoinDenied, m.Message)
		default:
			c.logger.Debug("ignoring frame before join", "type", m.Type)
		}
	}
}

func (c *pionConn) setupPeer(p *PionProvider, tracks []*LocalTrack) error {
	me := &webrtc.MediaEngine{}
	codecs := p.Codecs
	if codecs == nil {
		codecs = &StaticCapturer{}
	}
	if err := codecs.Populate(me); err != nil {
		return fmt.Errorf("registering codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return fmt.Errorf("registering interceptors: %w", err)
	}

	// a short relay outage must not end the call
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	var iceServers []webrtc.ICEServer
	if len(p.ICEServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: p.ICEServers})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	c.pc = pc

	for _, t := range tracks {
		sender, err := pc.AddTrack(t.Track())
		if err != nil {
			return fmt.Errorf("adding %s track: %w", t.Kind(), err)
		}
		t.bind(sender)
		go c.drainRTCP(t.Kind(), sender)
	}
	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("adding %s transceiver: %w", kind, err)
			}
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			c.down(errors.New("peer connection failed"))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// the SFU labels remote streams with the publishing identity
		identity := track.StreamID()
		kind := TrackVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = TrackAudio
		}
		c.logger.Debug("remote track subscribed", "participant", identity, "kind", kind, "codec", track.Codec().MimeType)
		c.emit(Event{Type: EventTrackSubscribed, Identity: identity, Kind: kind})
		if kind == TrackAudio {
			go meterAudio(c.logger, identity, track, c.emit)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		cj := cand.ToJSON()
		if err := c.send(sfuMessage{Type: "candidate", Candidate: &cj}); err != nil {
			c.logger.Debug("failed to send candidate", "error", err)
		}
	})
	return nil
}

func (c *pionConn) drainRTCP(kind TrackKind, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				c.logger.Debug("picture loss reported", "kind", kind)
			}
		}
	}
}

func (c *pionConn) readLoop() {
	defer c.logger.Debug("media signaling loop stopped")
	for {
		var m sfuMessage
		if err := c.ws.ReadJSON(&m); err != nil {
			c.down(fmt.Errorf("media signaling lost: %w", err))
			return
		}

		switch m.Type {
		case "answer":
			if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
				c.logger.Error("failed to set remote answer", "error", err)
			}
		case "offer":
			c.renegotiate(m.SDP)
		case "candidate":
			if m.Candidate == nil {
				continue
			}
			if err := c.pc.AddICECandidate(*m.Candidate); err != nil {
				c.logger.Warn("failed to add ICE candidate", "error", err)
			}
		case "participant_joined":
			c.emit(Event{Type: EventParticipantJoined, Identity: m.Identity})
		case "participant_left":
			c.emit(Event{Type: EventParticipantLeft, Identity: m.Identity})
		case "room_closed":
			c.down(ErrRoomClosed)
			return
		case "error":
			c.logger.Warn("media provider error", "message", m.Message)
		}
	}
}

func (c *pionConn) renegotiate(sdp string) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		c.logger.Error("failed to set remote offer", "error", err)
		return
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Error("failed to create answer", "error", err)
		return
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.logger.Error("failed to set local description", "error", err)
		return
	}
	if err := c.send(sfuMessage{Type: "answer", SDP: answer.SDP}); err != nil {
		c.logger.Warn("failed to send answer", "error", err)
	}
}

func (c *pionConn) send(m sfuMessage) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(m)
}

func (c *pionConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// down reports the provider-side end of the session once.
func (c *pionConn) down(err error) {
	c.downOnce.Do(func() {
		c.logger.Info("media session down", "error", err)
		c.emit(Event{Type: EventDisconnected, Err: err})
	})
}

func (c *pionConn) Participants() []string {
	out := make([]string, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *pionConn) Events() <-chan Event { return c.events }

func (c *pionConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.downOnce.Do(func() {})
		close(c.closed)
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.send(sfuMessage{Type: "leave"})
		c.ws.Close()
		if c.pc != nil {
			err = c.pc.Close()
		}
	})
	return err
}
