package hc

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// GetChannelByHex looks up a channel by its hex-encoded ChannelID, the
// form used by the control API.
func (m *ChannelMaster) GetChannelByHex(ctx context.Context, chanIDHex string) (*db.Channel, error) {
	b, err := hex.DecodeString(chanIDHex)
	if err != nil || len(b) != len(wire.ChannelID{}) {
		return nil, fmt.Errorf("%w: invalid channel id", ErrProtocol)
	}
	var chanID wire.ChannelID
	copy(chanID[:], b)

	ch, err := m.db.GetChannel(ctx, chanID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return ch, nil
}

// CloseChannel permanently removes a channel record, the only path
// that ever deletes one.
func (m *ChannelMaster) CloseChannel(ctx context.Context, chanID wire.ChannelID) error {
	if _, err := m.db.GetChannel(ctx, chanID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return m.db.DeleteChannel(ctx, chanID)
}

// ListChannels returns every channel matching status, optionally
// restricted to one hex-encoded peer public key.
func (m *ChannelMaster) ListChannels(ctx context.Context, peerPubKeyHex string, status db.ChannelStatus) ([]*db.Channel, error) {
	var peer []byte
	if peerPubKeyHex != "" {
		b, err := hex.DecodeString(peerPubKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid peer public key", ErrProtocol)
		}
		peer = b
	}

	channels, err := m.db.GetChannels(ctx, peer, status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return channels, nil
}
