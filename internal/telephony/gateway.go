package telephony

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/halovoice/voice-caller/pkg/audio"
	"github.com/halovoice/voice-caller/pkg/errors"
)

// ErrStreamNotAttached means the provider's media websocket has not
// connected (or already disconnected) for this call.
var ErrStreamNotAttached = stderrors.New("media stream not attached")

// Gateway combines the provider REST client and the media stream hub into
// the single Adapter surface the call manager and dialog engine consume.
type Gateway struct {
	rest *Client
	hub  *StreamHub

	mu   sync.Mutex
	sids map[string]string // call id -> provider sid
}

func NewGateway(rest *Client, hub *StreamHub) *Gateway {
	return &Gateway{
		rest: rest,
		hub:  hub,
		sids: make(map[string]string),
	}
}

// Hub exposes the stream hub for the websocket HTTP handler.
func (g *Gateway) Hub() *StreamHub {
	return g.hub
}

func (g *Gateway) InitiateCall(ctx context.Context, callID, phone string) (string, error) {
	g.hub.Register(callID)

	sid, err := g.rest.Dial(ctx, callID, phone)
	if err != nil {
		g.hub.Unregister(callID)
		return "", err
	}

	g.mu.Lock()
	g.sids[callID] = sid
	g.mu.Unlock()
	return sid, nil
}

// Play chunks PCM audio onto the media stream followed by a playback mark.
// The provider echoes the mark once the audio has drained, which surfaces
// as MediaPlaybackDone on the event channel.
func (g *Gateway) Play(ctx context.Context, callID string, pcm []byte) error {
	s, ok := g.hub.stream(callID)
	if !ok {
		return ErrStreamNotAttached
	}

	for _, chunk := range audio.ChunkPCM(pcm, audio.DefaultChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendAudio(chunk); err != nil {
			return errors.E(errors.KindProviderTransient, err)
		}
	}
	if err := s.sendMark(playbackMarkName); err != nil {
		return errors.E(errors.KindProviderTransient, err)
	}
	return nil
}

func (g *Gateway) StopPlayback(ctx context.Context, callID string) error {
	s, ok := g.hub.stream(callID)
	if !ok {
		return ErrStreamNotAttached
	}
	if err := s.sendClear(); err != nil {
		return errors.E(errors.KindProviderTransient, err)
	}
	return nil
}

func (g *Gateway) SendAudio(ctx context.Context, callID string, frame []byte) error {
	s, ok := g.hub.stream(callID)
	if !ok {
		return ErrStreamNotAttached
	}
	if err := s.sendAudio(frame); err != nil {
		return errors.E(errors.KindProviderTransient, err)
	}
	return nil
}

func (g *Gateway) Hangup(ctx context.Context, callID string) error {
	g.mu.Lock()
	sid, ok := g.sids[callID]
	g.mu.Unlock()
	if !ok {
		return ErrStreamNotAttached
	}
	return g.rest.HangupCall(ctx, sid)
}

// Release drops per-call gateway state once a session is finalized.
func (g *Gateway) Release(callID string) {
	g.mu.Lock()
	delete(g.sids, callID)
	g.mu.Unlock()
	g.hub.Unregister(callID)
}
