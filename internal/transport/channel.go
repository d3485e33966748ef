package transport

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/peer"
)

var (
	// ErrBufferFull is returned by Send when the channel already holds more
	// than the high-water mark in unsent bytes. The payload is dropped.
	ErrBufferFull = errors.New("data channel buffer full")

	errChannelNotOpen = errors.New("data channel not open")
)

// Channel adapts a pion DataChannel to peer.Channel.
type Channel struct {
	dc            *webrtc.DataChannel
	highWaterMark uint64
}

func newChannel(dc *webrtc.DataChannel, highWaterMark int) *Channel {
	c := &Channel{dc: dc}
	if highWaterMark > 0 {
		c.highWaterMark = uint64(highWaterMark)
	}
	return c
}

// State maps the DataChannel ready state onto peer.ChannelState.
func (c *Channel) State() peer.ChannelState {
	return channelState(c.dc.ReadyState())
}

// Send queues data on the channel without blocking.
func (c *Channel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	if c.highWaterMark > 0 && c.dc.BufferedAmount()+uint64(len(data)) > c.highWaterMark {
		return ErrBufferFull
	}
	return c.dc.Send(data)
}

func (c *Channel) Close() error {
	return c.dc.Close()
}

func channelState(s webrtc.DataChannelState) peer.ChannelState {
	switch s {
	case webrtc.DataChannelStateConnecting:
		return peer.ChannelConnecting
	case webrtc.DataChannelStateOpen:
		return peer.ChannelOpen
	case webrtc.DataChannelStateClosing:
		return peer.ChannelClosing
	case webrtc.DataChannelStateClosed:
		return peer.ChannelClosed
	default:
		return peer.ChannelAbsent
	}
}
