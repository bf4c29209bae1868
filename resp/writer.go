package resp

import (
	"io"
	"strconv"
)

// --------------------------------------------------------------------------
// Command encoding
// --------------------------------------------------------------------------

// AppendCommand appends the wire encoding of one command (an array of bulk
// strings) to dst and returns the extended buffer.
func AppendCommand(dst []byte, args [][]byte) []byte {
	dst = append(dst, typeArray)
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, arg := range args {
		dst = append(dst, typeBulkString)
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, arg...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// EncodeCommand returns the wire encoding of one command.
func EncodeCommand(args [][]byte) []byte {
	// estimate: per-arg framing overhead is at most 15 bytes
	size := 15
	for _, arg := range args {
		size += len(arg) + 15
	}
	return AppendCommand(make([]byte, 0, size), args)
}

// WriteCommand encodes one command and writes it to w.
func WriteCommand(w io.Writer, args [][]byte) error {
	_, err := w.Write(EncodeCommand(args))
	return err
}
