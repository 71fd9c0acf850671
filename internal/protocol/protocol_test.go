package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValues() map[string]Value {
	return map[string]Value{
		"nil":         Nil(),
		"error":       Err(ErrCodeUnknown, "Unknown cmd"),
		"empty error": Err(-7, ""),
		"string":      Str([]byte("hello")),
		"binary":      Str([]byte{0, 1, 2, 0xff, '\r', '\n'}),
		"empty":       Str(nil),
		"int":         Int(42),
		"negative":    Int(math.MinInt64),
		"empty array": Arr(),
		"array":       Arr(Str([]byte("a")), Int(1), Nil()),
		"nested":      Arr(Arr(Str([]byte("x")), Arr()), Err(2, "e"), Int(-1)),
	}
}

func TestValueRoundTrip(t *testing.T) {
	for name, v := range sampleValues() {
		t.Run(name, func(t *testing.T) {
			enc := AppendValue(nil, v)
			got, n, err := DecodeValue(enc)
			require.NoError(t, err)
			assert.Equal(t, len(enc), n)
			assert.Equal(t, v, got)

			got, err = DecodeResponse(enc)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		})
	}
}

func TestValueRejectsTruncatedPrefix(t *testing.T) {
	for name, v := range sampleValues() {
		t.Run(name, func(t *testing.T) {
			enc := AppendValue(nil, v)
			for i := 0; i < len(enc); i++ {
				_, _, err := DecodeValue(enc[:i])
				assert.ErrorIs(t, err, ErrTruncated, "prefix of %d bytes", i)
			}
		})
	}
}

func TestDecodeValueErrors(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		_, _, err := DecodeValue([]byte{9})
		assert.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("string length past end", func(t *testing.T) {
		buf := []byte{byte(KindStr)}
		buf = binary.LittleEndian.AppendUint32(buf, math.MaxUint32)
		_, _, err := DecodeValue(append(buf, 'a'))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("array count larger than data", func(t *testing.T) {
		buf := AppendArrayHeader(nil, 1<<30)
		_, _, err := DecodeValue(AppendNil(buf))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := DecodeResponse(append(AppendNil(nil), 0))
		assert.ErrorIs(t, err, ErrTrailingBytes)
	})
}

func TestEncodingLayout(t *testing.T) {
	enc := AppendError(nil, ErrCodeTooBig, "big")
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 3, 0, 0, 0, 'b', 'i', 'g'}, enc)

	enc = AppendInt(nil, 1)
	assert.Equal(t, []byte{3, 1, 0, 0, 0, 0, 0, 0, 0}, enc)

	enc = AppendArrayHeader(nil, 2)
	enc = AppendString(enc, []byte("k"))
	enc = AppendNil(enc)
	assert.Equal(t, []byte{4, 2, 0, 0, 0, 2, 1, 0, 0, 0, 'k', 0}, enc)
}

func TestRequestRoundTrip(t *testing.T) {
	cases := [][][]byte{
		{},
		{[]byte("keys")},
		{[]byte("set"), []byte("a"), []byte("1")},
		{[]byte("set"), []byte(""), []byte{0, 0, 0}},
		{bytes.Repeat([]byte("x"), MaxMessageSize-8)},
	}
	for _, args := range cases {
		frame, err := AppendRequest(nil, args)
		require.NoError(t, err)

		payload, consumed, ok, err := SplitFrame(frame)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, len(frame), consumed)

		got, err := ParseRequest(payload, nil)
		require.NoError(t, err)
		require.Len(t, got, len(args))
		for i := range args {
			assert.Equal(t, args[i], got[i])
		}

		for i := 0; i < len(payload); i++ {
			_, err := ParseRequest(payload[:i], nil)
			assert.Error(t, err, "prefix of %d bytes", i)
		}
	}
}

func TestAppendRequestTooLarge(t *testing.T) {
	_, err := AppendRequest(nil, [][]byte{bytes.Repeat([]byte("x"), MaxMessageSize)})
	assert.ErrorIs(t, err, ErrRequestTooLarge)
}

func TestParseRequestErrors(t *testing.T) {
	t.Run("too many args", func(t *testing.T) {
		payload := binary.LittleEndian.AppendUint32(nil, MaxMessageSize+1)
		_, err := ParseRequest(payload, nil)
		assert.ErrorIs(t, err, ErrTooManyArgs)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		frame, err := AppendRequest(nil, [][]byte{[]byte("get"), []byte("a")})
		require.NoError(t, err)
		_, err = ParseRequest(append(frame[HeaderSize:], 'z'), nil)
		assert.ErrorIs(t, err, ErrTrailingBytes)
	})

	t.Run("arg length past end", func(t *testing.T) {
		payload := binary.LittleEndian.AppendUint32(nil, 1)
		payload = binary.LittleEndian.AppendUint32(payload, math.MaxUint32)
		_, err := ParseRequest(payload, nil)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("reuses args", func(t *testing.T) {
		frame, err := AppendRequest(nil, [][]byte{[]byte("get"), []byte("a")})
		require.NoError(t, err)
		args := make([][]byte, 0, 8)
		got, err := ParseRequest(frame[HeaderSize:], args)
		require.NoError(t, err)
		assert.Equal(t, 8, cap(got))
	})
}

func TestSplitFrame(t *testing.T) {
	t.Run("needs header", func(t *testing.T) {
		_, _, ok, err := SplitFrame([]byte{1, 0})
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("needs payload", func(t *testing.T) {
		_, _, ok, err := SplitFrame([]byte{3, 0, 0, 0, 'a'})
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("oversized", func(t *testing.T) {
		hdr := binary.LittleEndian.AppendUint32(nil, MaxMessageSize+1)
		_, _, _, err := SplitFrame(hdr)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("max size accepted", func(t *testing.T) {
		frame := AppendFrame(nil, make([]byte, MaxMessageSize))
		payload, consumed, ok, err := SplitFrame(frame)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, MaxFrameSize, consumed)
		assert.Len(t, payload, MaxMessageSize)
	})

	t.Run("leaves following frames", func(t *testing.T) {
		buf := AppendFrame(nil, []byte("ab"))
		buf = AppendFrame(buf, []byte("c"))
		payload, consumed, ok, err := SplitFrame(buf)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("ab"), payload)
		assert.Equal(t, 6, consumed)
	})
}

func TestValueString(t *testing.T) {
	v := Arr(Str([]byte("a")), Int(2), Nil(), Err(1, "Unknown cmd"))
	assert.Equal(t, "(arr) len=4\n(str) a\n(int) 2\n(nil)\n(err) 1 Unknown cmd\n(arr) end", v.String())
}
