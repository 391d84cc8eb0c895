package domain

import (
	"encoding/binary"
	"fmt"
)

// Control channel message types
const (
	MsgRoleAnnounce int32 = -1
	MsgDeviceConfig int32 = -2
	MsgIdentity     int32 = -3
	MsgCalibration  int32 = -4
	MsgWhiteBalance int32 = -5
	MsgExposure     int32 = -6
	MsgText         int32 = 1
	MsgFile         int32 = 2
	MsgFrameNotify  int32 = 3
	MsgGate         int32 = 5
	MsgDrain        int32 = 7
	MsgWindowStart  int32 = 8
	MsgWindowStop   int32 = 9
	MsgSwitchFolder int32 = 10
	MsgCameraCount  int32 = 11
)

// Transfer channel message types, always sent as a triple per frame
const (
	TransferTimestamp int32 = 1
	TransferColor     int32 = 2
	TransferDepth     int32 = 3
)

// Gate commands carried by MsgGate
const (
	GateStart = "start"
	GateStop  = "stop"
)

// RecorderCommandPrefix marks a MsgText sent during the identity exchange as
// the recorder command line for the session, e.g.
// "recorder: k4arecorder --external-sync master {serial}.mkv".
const RecorderCommandPrefix = "recorder:"

// Handshake verdicts sent as MsgText after sync validation
const (
	VerdictSuccess = "success"
	VerdictFail    = "fail"
)

// HeaderSize is the size of the type+length prefix of every message
const HeaderSize = 8

// Message is one framed unit on either channel
type Message struct {
	Type    int32
	Payload []byte
}

func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(p []byte) (uint64, error) {
	if len(p) != 8 {
		return 0, fmt.Errorf("uint64 payload has %d bytes: %w", len(p), ErrShortPayload)
	}
	return binary.BigEndian.Uint64(p), nil
}

func EncodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func DecodeInt32(p []byte) (int32, error) {
	if len(p) != 4 {
		return 0, fmt.Errorf("int32 payload has %d bytes: %w", len(p), ErrShortPayload)
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

const deviceConfigSize = 4*7 + 2

// MarshalBinary encodes the config as fixed-width big-endian fields
func (c DeviceConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, deviceConfigSize)
	b = binary.BigEndian.AppendUint32(b, uint32(c.ColorFormat))
	b = binary.BigEndian.AppendUint32(b, uint32(c.ColorResolution))
	b = binary.BigEndian.AppendUint32(b, uint32(c.DepthMode))
	b = binary.BigEndian.AppendUint32(b, uint32(c.FPS))
	b = binary.BigEndian.AppendUint32(b, uint32(c.SyncRole))
	b = binary.BigEndian.AppendUint32(b, uint32(c.DepthDelayUs))
	b = binary.BigEndian.AppendUint32(b, c.SubordinateDelayUs)
	b = append(b, boolByte(c.SynchronizedImagesOnly), boolByte(c.DisableStreamingIndicator))
	return b, nil
}

func (c *DeviceConfig) UnmarshalBinary(p []byte) error {
	if len(p) != deviceConfigSize {
		return fmt.Errorf("device config has %d bytes, want %d: %w", len(p), deviceConfigSize, ErrShortPayload)
	}
	r := reader{buf: p}
	c.ColorFormat = int32(r.uint32())
	c.ColorResolution = int32(r.uint32())
	c.DepthMode = int32(r.uint32())
	c.FPS = int32(r.uint32())
	c.SyncRole = Role(r.uint32())
	c.DepthDelayUs = int32(r.uint32())
	c.SubordinateDelayUs = r.uint32()
	c.SynchronizedImagesOnly = r.byte() != 0
	c.DisableStreamingIndicator = r.byte() != 0
	if !c.SyncRole.Valid() {
		return fmt.Errorf("device config carries unknown role %d", int32(c.SyncRole))
	}
	return nil
}

// MarshalIdentity encodes the startup report: success flag, then serial and
// calibration blob each prefixed by a uint32 length.
func MarshalIdentity(id CameraIdentity) []byte {
	b := make([]byte, 0, 1+4+len(id.Serial)+4+len(id.Calibration))
	b = append(b, boolByte(id.StartUpSuccess))
	b = binary.BigEndian.AppendUint32(b, uint32(len(id.Serial)))
	b = append(b, id.Serial...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(id.Calibration)))
	b = append(b, id.Calibration...)
	return b
}

// UnmarshalIdentity decodes a MarshalIdentity payload. Role and raw
// calibration travel in other messages and are left zero.
func UnmarshalIdentity(p []byte) (CameraIdentity, error) {
	var id CameraIdentity
	r := reader{buf: p}
	id.StartUpSuccess = r.byte() != 0
	id.Serial = string(r.bytes(int(r.uint32())))
	id.Calibration = r.bytes(int(r.uint32()))
	if r.err != nil {
		return CameraIdentity{}, r.err
	}
	if r.off != len(p) {
		return CameraIdentity{}, fmt.Errorf("identity has %d trailing bytes", len(p)-r.off)
	}
	return id, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// reader decodes sequential big-endian fields, remembering the first
// short read.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("need %d bytes at offset %d of %d: %w", n, r.off, len(r.buf), ErrShortPayload)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
