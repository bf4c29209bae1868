package resp

import (
	"bufio"
	"io"
	"strconv"

	"github.com/ValentinKolb/respKV/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("resp")

// Type bytes of the wire protocol. The first eight exist in RESP2, the rest
// are RESP3 only.
const (
	typeSimpleString = '+'
	typeError        = '-'
	typeInteger      = ':'
	typeBulkString   = '$'
	typeArray        = '*'
	typeNull         = '_'
	typeBoolean      = '#'
	typeDouble       = ','
	typeBigNumber    = '('
	typeVerbatim     = '='
	typeMap          = '%'
	typeSet          = '~'
	typePush         = '>'
)

// maxBulkLength guards against absurd length prefixes produced by a
// desynchronized stream (512 MB, the server-side proto limit).
const maxBulkLength = 512 * 1024 * 1024

// maxAggregateElems bounds the element count of arrays, maps, sets and
// pushes (1M, the server-side multibulk limit). Counts come off the wire
// and must never reach an allocation unchecked.
const maxAggregateElems = 1024 * 1024

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader incrementally decodes RESP values from a stream. Partial reads are
// handled by the underlying buffered reader: ReadValue blocks until a full
// frame is available and never consumes bytes of an incomplete frame
// speculatively.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// NewReaderSize creates a Reader with an explicit buffer size.
func NewReaderSize(r io.Reader, size int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, size)}
}

// ReadValue decodes the next value from the stream. A returned error of
// kind KindProtocol means the stream is desynchronized and the connection
// must be torn down; any other error is a transport error.
func (r *Reader) ReadValue() (Value, error) {
	t, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch t {
	case typeSimpleString:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindSimpleString, Str: string(line)}, nil

	case typeError:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindError, Str: string(line)}, nil

	case typeInteger:
		n, err := r.readInt()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInteger, Int: n}, nil

	case typeBulkString:
		return r.readBulk()

	case typeArray:
		return r.readAggregate(KindArray)

	case typeNull:
		if _, err := r.readLine(); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindNull}, nil

	case typeBoolean:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		switch string(line) {
		case "t":
			return Value{Kind: KindBoolean, Bool: true}, nil
		case "f":
			return Value{Kind: KindBoolean, Bool: false}, nil
		default:
			return Value{}, common.NewError(common.KindProtocol, "invalid boolean %q", line)
		}

	case typeDouble:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(string(line), 64)
		if err != nil {
			return Value{}, common.NewError(common.KindProtocol, "invalid double %q", line)
		}
		return Value{Kind: KindDouble, Double: f}, nil

	case typeBigNumber:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBigNumber, Str: string(line)}, nil

	case typeVerbatim:
		v, err := r.readBulk()
		if err != nil {
			return Value{}, err
		}
		// strip the "txt:"/"mkd:" format prefix
		if len(v.Bulk) < 4 || v.Bulk[3] != ':' {
			return Value{}, common.NewError(common.KindProtocol, "malformed verbatim string")
		}
		return Value{Kind: KindVerbatim, Str: string(v.Bulk[4:])}, nil

	case typeMap:
		n, err := r.readInt()
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return Value{Kind: KindNull}, nil
		}
		if n > maxAggregateElems {
			return Value{}, common.NewError(common.KindProtocol, "invalid map length %d", n)
		}
		elems, err := r.readElems(2 * n)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindMap, Elems: elems}, nil

	case typeSet:
		return r.readAggregate(KindSet)

	case typePush:
		return r.readAggregate(KindPush)

	default:
		return Value{}, common.NewError(common.KindProtocol, "unexpected type byte %q", t)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readLine reads one CRLF-terminated line, excluding the terminator.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, common.NewError(common.KindProtocol, "line not terminated by CRLF")
	}
	return line[:len(line)-2], nil
}

// readInt reads a CRLF-terminated signed integer.
func (r *Reader) readInt() (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, common.NewError(common.KindProtocol, "invalid integer %q", line)
	}
	return n, nil
}

// readBulk reads a length-prefixed bulk string body. A -1 length yields the
// RESP2 null value.
func (r *Reader) readBulk() (Value, error) {
	n, err := r.readInt()
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Kind: KindNull}, nil
	}
	if n < 0 || n > maxBulkLength {
		return Value{}, common.NewError(common.KindProtocol, "invalid bulk length %d", n)
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return Value{}, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Value{}, common.NewError(common.KindProtocol, "bulk string not terminated by CRLF")
	}
	return Value{Kind: KindBulkString, Bulk: buf[:n]}, nil
}

// readAggregate reads a length-prefixed sequence of values. A -1 length
// yields the RESP2 null value.
func (r *Reader) readAggregate(kind Kind) (Value, error) {
	n, err := r.readInt()
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Kind: KindNull}, nil
	}
	if n < 0 || n > maxAggregateElems {
		return Value{}, common.NewError(common.KindProtocol, "invalid aggregate length %d", n)
	}
	elems, err := r.readElems(n)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: kind, Elems: elems}, nil
}

func (r *Reader) readElems(n int64) ([]Value, error) {
	// the count is wire-supplied; grow the slice instead of trusting it
	// with an up-front allocation
	capHint := n
	if capHint > 64 {
		capHint = 64
	}
	elems := make([]Value, 0, capHint)
	for i := int64(0); i < n; i++ {
		v, err := r.ReadValue()
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, nil
}
