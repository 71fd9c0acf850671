package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Kind is the one-byte tag leading every encoded value.
type Kind byte

const (
	KindNil Kind = iota
	KindErr
	KindStr
	KindInt
	KindArr
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindErr:
		return "err"
	case KindStr:
		return "str"
	case KindInt:
		return "int"
	case KindArr:
		return "arr"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Error codes carried by KindErr values.
const (
	ErrCodeUnknown int32 = 1
	ErrCodeTooBig  int32 = 2
	ErrCodeArity   int32 = 3
)

// Value is a decoded response. Str holds the message for KindErr.
type Value struct {
	Kind Kind
	Code int32
	Str  []byte
	Int  int64
	Arr  []Value
}

func Nil() Value {
	return Value{Kind: KindNil}
}

func Err(code int32, msg string) Value {
	return Value{Kind: KindErr, Code: code, Str: []byte(msg)}
}

func Str(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Kind: KindStr, Str: b}
}

func Int(n int64) Value {
	return Value{Kind: KindInt, Int: n}
}

func Arr(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{Kind: KindArr, Arr: vs}
}

func AppendNil(dst []byte) []byte {
	return append(dst, byte(KindNil))
}

func AppendError(dst []byte, code int32, msg string) []byte {
	dst = append(dst, byte(KindErr))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(code))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(msg)))
	return append(dst, msg...)
}

func AppendString(dst []byte, s []byte) []byte {
	dst = append(dst, byte(KindStr))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func AppendInt(dst []byte, n int64) []byte {
	dst = append(dst, byte(KindInt))
	return binary.LittleEndian.AppendUint64(dst, uint64(n))
}

// AppendArrayHeader starts an array of n values; the caller appends the
// elements right after it.
func AppendArrayHeader(dst []byte, n uint32) []byte {
	dst = append(dst, byte(KindArr))
	return binary.LittleEndian.AppendUint32(dst, n)
}

// AppendValue encodes v.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindErr:
		return AppendError(dst, v.Code, string(v.Str))
	case KindStr:
		return AppendString(dst, v.Str)
	case KindInt:
		return AppendInt(dst, v.Int)
	case KindArr:
		dst = AppendArrayHeader(dst, uint32(len(v.Arr)))
		for _, e := range v.Arr {
			dst = AppendValue(dst, e)
		}
		return dst
	default:
		return AppendNil(dst)
	}
}

// DecodeValue decodes one value from the front of data and returns the
// number of bytes it occupied.
func DecodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, ErrTruncated
	}
	switch Kind(data[0]) {
	case KindNil:
		return Nil(), 1, nil

	case KindErr:
		code, ok := readUint32(data, 1)
		if !ok {
			return Value{}, 0, ErrTruncated
		}
		size, ok := readUint32(data, 5)
		if !ok {
			return Value{}, 0, ErrTruncated
		}
		if uint64(len(data)-9) < uint64(size) {
			return Value{}, 0, ErrTruncated
		}
		end := 9 + int(size)
		return Value{Kind: KindErr, Code: int32(code), Str: data[9:end:end]}, end, nil

	case KindStr:
		size, ok := readUint32(data, 1)
		if !ok {
			return Value{}, 0, ErrTruncated
		}
		if uint64(len(data)-5) < uint64(size) {
			return Value{}, 0, ErrTruncated
		}
		end := 5 + int(size)
		return Str(data[5:end:end]), end, nil

	case KindInt:
		if len(data) < 9 {
			return Value{}, 0, ErrTruncated
		}
		return Int(int64(binary.LittleEndian.Uint64(data[1:]))), 9, nil

	case KindArr:
		count, ok := readUint32(data, 1)
		if !ok {
			return Value{}, 0, ErrTruncated
		}
		pos := 5
		// every element takes at least one byte
		if uint64(len(data)-pos) < uint64(count) {
			return Value{}, 0, ErrTruncated
		}
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := DecodeValue(data[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, v)
			pos += n
		}
		return Value{Kind: KindArr, Arr: arr}, pos, nil
	}
	return Value{}, 0, ErrUnknownTag
}

// DecodeResponse decodes a response payload that must hold exactly one value.
func DecodeResponse(payload []byte) (Value, error) {
	v, n, err := DecodeValue(payload)
	if err != nil {
		return Value{}, err
	}
	if n != len(payload) {
		return Value{}, ErrTrailingBytes
	}
	return v, nil
}

// String renders v the way the command line client prints it.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return strings.TrimSuffix(sb.String(), "\n")
}

func (v Value) render(sb *strings.Builder) {
	switch v.Kind {
	case KindNil:
		sb.WriteString("(nil)\n")
	case KindErr:
		fmt.Fprintf(sb, "(err) %d %s\n", v.Code, v.Str)
	case KindStr:
		fmt.Fprintf(sb, "(str) %s\n", v.Str)
	case KindInt:
		fmt.Fprintf(sb, "(int) %d\n", v.Int)
	case KindArr:
		fmt.Fprintf(sb, "(arr) len=%d\n", len(v.Arr))
		for _, e := range v.Arr {
			e.render(sb)
		}
		sb.WriteString("(arr) end\n")
	default:
		fmt.Fprintf(sb, "(%s)\n", v.Kind)
	}
}
