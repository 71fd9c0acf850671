package protocol

import "encoding/binary"

// RequestSize returns the payload size of a request carrying args.
func RequestSize(args [][]byte) int {
	n := 4
	for _, a := range args {
		n += 4 + len(a)
	}
	return n
}

// AppendRequest appends a complete request frame for args to dst.
func AppendRequest(dst []byte, args [][]byte) ([]byte, error) {
	size := RequestSize(args)
	if size > MaxMessageSize {
		return dst, ErrRequestTooLarge
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(size))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(args)))
	for _, a := range args {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(a)))
		dst = append(dst, a...)
	}
	return dst, nil
}

// ParseRequest decodes a request payload into args, reusing its backing
// array. The returned slices alias payload.
func ParseRequest(payload []byte, args [][]byte) ([][]byte, error) {
	args = args[:0]
	count, ok := readUint32(payload, 0)
	if !ok {
		return args, ErrTruncated
	}
	if count > MaxMessageSize {
		return args, ErrTooManyArgs
	}

	pos := 4
	for i := uint32(0); i < count; i++ {
		size, ok := readUint32(payload, pos)
		if !ok {
			return args, ErrTruncated
		}
		pos += 4
		if uint64(len(payload)-pos) < uint64(size) {
			return args, ErrTruncated
		}
		end := pos + int(size)
		args = append(args, payload[pos:end:end])
		pos = end
	}
	if pos != len(payload) {
		return args, ErrTrailingBytes
	}
	return args, nil
}
