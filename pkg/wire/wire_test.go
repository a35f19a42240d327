package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tag() != msg.Tag() {
		t.Fatalf("tag mismatch: got %d want %d", got.Tag(), msg.Tag())
	}
	return got
}

func TestInvokeHostedChannelRoundTrip(t *testing.T) {
	in := &InvokeHostedChannel{
		ChainHash:          ChainHash{1, 2, 3},
		RefundScriptPubKey: []byte{0x00, 0x14, 0xaa, 0xbb},
	}
	out := roundTrip(t, in).(*InvokeHostedChannel)
	if out.ChainHash != in.ChainHash {
		t.Fatalf("chainHash mismatch")
	}
	if !bytes.Equal(out.RefundScriptPubKey, in.RefundScriptPubKey) {
		t.Fatalf("refundScriptPubKey mismatch")
	}
}

func TestInitHostedChannelRoundTrip(t *testing.T) {
	in := &InitHostedChannel{Params: InitHostedChannelParams{
		CapacityMsat:             1_000_000_000,
		HtlcMinimumMsat:          1000,
		MaxAcceptedHtlcs:         30,
		MaxHtlcValueInFlightMsat: 500_000_000,
		InitialClientBalanceMsat: 1_000_000_000,
		Features:                 FeatureBits(0).Set(3),
	}}
	out := roundTrip(t, in).(*InitHostedChannel)
	if out.Params != in.Params {
		t.Fatalf("params mismatch: got %+v want %+v", out.Params, in.Params)
	}
}

func TestUpdateAddHtlcRoundTrip(t *testing.T) {
	in := &UpdateAddHtlc{
		ChanID:     ChannelID{9, 9, 9},
		ID:         42,
		Amount:     MilliSatoshi(50_000),
		CltvExpiry: 700_100,
	}
	in.PaymentHash[0] = 0xde
	in.OnionBlob[0] = 0xef

	out := roundTrip(t, in).(*UpdateAddHtlc)
	if *out != *in {
		t.Fatalf("htlc mismatch")
	}
}

func TestLastCrossSignedStateRoundTripAndReverse(t *testing.T) {
	lcss := &LastCrossSignedState{
		IsHost:             true,
		RefundScriptPubKey: []byte{0x00, 0x14, 1, 2, 3, 4},
		InitHostedChannel: InitHostedChannelParams{
			CapacityMsat:             1_000_000_000,
			HtlcMinimumMsat:          1000,
			MaxAcceptedHtlcs:         30,
			MaxHtlcValueInFlightMsat: 500_000_000,
			InitialClientBalanceMsat: 1_000_000_000,
		},
		BlockDay:          800_000,
		LocalBalanceMsat:  400_000_000,
		RemoteBalanceMsat: 600_000_000,
		LocalUpdates:      2,
		RemoteUpdates:     3,
		IncomingHtlcs: []*UpdateAddHtlc{
			{ChanID: ChannelID{1}, ID: 1, Amount: 10_000, CltvExpiry: 100},
		},
	}
	out := roundTrip(t, lcss).(*LastCrossSignedState)

	if out.IsHost != lcss.IsHost || out.BlockDay != lcss.BlockDay ||
		out.LocalBalanceMsat != lcss.LocalBalanceMsat ||
		out.RemoteBalanceMsat != lcss.RemoteBalanceMsat ||
		len(out.IncomingHtlcs) != len(lcss.IncomingHtlcs) {
		t.Fatalf("lcss round trip mismatch: got %+v want %+v", out, lcss)
	}

	rev := lcss.Reverse()
	if rev.IsHost == lcss.IsHost {
		t.Fatalf("reverse did not flip IsHost")
	}
	if rev.LocalBalanceMsat != lcss.RemoteBalanceMsat || rev.RemoteBalanceMsat != lcss.LocalBalanceMsat {
		t.Fatalf("reverse did not swap balances")
	}
	if len(rev.IncomingHtlcs) != len(lcss.OutgoingHtlcs) || len(rev.OutgoingHtlcs) != len(lcss.IncomingHtlcs) {
		t.Fatalf("reverse did not swap htlc direction")
	}

	back := rev.Reverse()
	if back.IsHost != lcss.IsHost || back.LocalBalanceMsat != lcss.LocalBalanceMsat {
		t.Fatalf("reverse is not its own inverse")
	}
}

func TestLastCrossSignedStateSigMaterialIsLittleEndian(t *testing.T) {
	lcss := &LastCrossSignedState{
		InitHostedChannel: InitHostedChannelParams{
			CapacityMsat:             0x0102030405060708,
			InitialClientBalanceMsat: 0,
		},
		BlockDay: 0x01020304,
	}
	mat := lcss.SigMaterial()

	// refundScriptPubKey is empty here, so the material starts directly
	// with LE64(capacity): the low byte of a little-endian encoding of
	// 0x0102030405060708 is 0x08, never 0x01.
	if mat[0] != 0x08 {
		t.Fatalf("sig material is not little-endian: first byte = %#x", mat[0])
	}
}

func TestLastCrossSignedStateCheckInvariants(t *testing.T) {
	lcss := &LastCrossSignedState{
		InitHostedChannel: InitHostedChannelParams{
			CapacityMsat:             1_000_000,
			HtlcMinimumMsat:          100,
			MaxAcceptedHtlcs:         10,
			MaxHtlcValueInFlightMsat: 1_000_000,
		},
		LocalBalanceMsat:  600_000,
		RemoteBalanceMsat: 400_000,
	}
	if err := lcss.CheckInvariants(); err != nil {
		t.Fatalf("expected valid lcss, got %v", err)
	}

	lcss.RemoteBalanceMsat = 500_000
	if err := lcss.CheckInvariants(); err == nil {
		t.Fatalf("expected balance-sum invariant to fail")
	}
}

func TestResizeChannelSigMaterial(t *testing.T) {
	rc := &ResizeChannel{NewCapacitySat: 0x0102030405060708}
	mat := rc.SigMaterial()
	if len(mat) != 8 || mat[0] != 0x08 {
		t.Fatalf("resize sig material not little-endian 8 bytes: %x", mat)
	}
}

func TestStateUpdateRoundTrip(t *testing.T) {
	in := &StateUpdate{
		ChanID:        ChannelID{5},
		BlockDay:      900_000,
		LocalUpdates:  7,
		RemoteUpdates: 8,
	}
	out := roundTrip(t, in).(*StateUpdate)
	if *out != *in {
		t.Fatalf("state update mismatch")
	}
}

func TestErrorRoundTrip(t *testing.T) {
	in := &Error{ChanID: ChannelID{1}, Data: "blockday too stale"}
	out := roundTrip(t, in).(*Error)
	if out.Data != in.Data {
		t.Fatalf("error data mismatch")
	}
}

func TestReplyPublicHostedChannelsRoundTrip(t *testing.T) {
	in := &ReplyPublicHostedChannels{Announcements: []*ChannelAnnouncement{
		{ChainHash: ChainHash{1}, ShortChannelID: 42},
		{ChainHash: ChainHash{2}, ShortChannelID: 43},
	}}
	out := roundTrip(t, in).(*ReplyPublicHostedChannels)
	if len(out.Announcements) != 2 || out.Announcements[1].ShortChannelID != 43 {
		t.Fatalf("announcements mismatch: %+v", out.Announcements)
	}
}
