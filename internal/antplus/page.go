package antplus

import (
	"encoding/binary"

	"github.com/half2me/antgo/message"
)

const (
	minBroadcastLen = 12
	extendedFlagBit = 0x80
	// flag byte + device number (2) + device type + transmission type
	extendedDataLen = 5
)

// HeartRatePage is the heart rate part of an ANT broadcast data message.
// When Extended is false the stick did not append a channel ID, so DeviceNumber and DeviceType are zero.
type HeartRatePage struct {
	Channel           byte
	PageNumber        byte
	BeatTime          uint16
	BeatCount         byte
	ComputedHeartRate int

	Extended         bool
	DeviceNumber     uint16
	DeviceType       byte
	TransmissionType byte
}

// DecodeHeartRatePage decodes a raw USB read holding one broadcast message.
//
// Layout: sync, length, message id, channel, then 8 data bytes of which the last four are
// beat time (LE, 1/1024 s), beat count and computed heart rate. Extended messages carry a
// flag byte followed by the channel ID of the transmitting device.
func DecodeHeartRatePage(buf []byte) (HeartRatePage, bool) {
	if len(buf) < minBroadcastLen {
		return HeartRatePage{}, false
	}
	if buf[0] != message.MESSAGE_TX_SYNC || buf[2] != message.MESSAGE_TYPE_BROADCAST {
		return HeartRatePage{}, false
	}

	page := HeartRatePage{
		Channel:           buf[3],
		PageNumber:        buf[4] &^ 0x80,
		BeatTime:          binary.LittleEndian.Uint16(buf[8:10]),
		BeatCount:         buf[10],
		ComputedHeartRate: int(buf[11]),
	}

	if buf[1] > 8 && len(buf) >= minBroadcastLen+extendedDataLen && buf[12]&extendedFlagBit != 0 {
		page.Extended = true
		page.DeviceNumber = binary.LittleEndian.Uint16(buf[13:15])
		page.DeviceType = buf[15] &^ 0x80
		page.TransmissionType = buf[16]
	}
	return page, true
}
