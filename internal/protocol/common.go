// Package protocol implements the binary wire format: length-prefixed
// frames, request argument lists and tagged response values. All integers
// are little-endian.
package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	HeaderSize     = 4
	MaxMessageSize = 4096
	MaxFrameSize   = HeaderSize + MaxMessageSize
)

var (
	ErrFrameTooLarge   = errors.New("protocol: frame exceeds max message size")
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrTrailingBytes   = errors.New("protocol: trailing bytes after message")
	ErrTooManyArgs     = errors.New("protocol: too many arguments")
	ErrUnknownTag      = errors.New("protocol: unknown value tag")
	ErrRequestTooLarge = errors.New("protocol: request exceeds max message size")
)

// ParseFrameHeader returns the payload length declared by the first
// HeaderSize bytes of buf.
func ParseFrameHeader(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(buf)
	if n > MaxMessageSize {
		return 0, ErrFrameTooLarge
	}
	return int(n), nil
}

// SplitFrame extracts the first complete frame from buf. ok is false when
// more bytes are needed; consumed is the full frame length including the
// header.
func SplitFrame(buf []byte) (payload []byte, consumed int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, false, nil
	}
	n, err := ParseFrameHeader(buf)
	if err != nil {
		return nil, 0, false, err
	}
	if len(buf) < HeaderSize+n {
		return nil, 0, false, nil
	}
	return buf[HeaderSize : HeaderSize+n], HeaderSize + n, true, nil
}

// AppendFrame appends payload to dst behind a length prefix.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func readUint32(data []byte, pos int) (uint32, bool) {
	if pos < 0 || len(data)-pos < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[pos:]), true
}
