// Package resp implements the wire codec for the RESP protocol, major
// versions 2 and 3. It encodes commands as arrays of bulk strings and
// incrementally decodes the reply stream into typed values.
//
// The package focuses on:
//   - A Value tagged union covering every RESP2 and RESP3 reply kind
//   - A streaming Reader over a buffered connection that blocks across
//     partial reads, so decoding is resumable by construction
//   - Strict framing checks: any malformed length prefix, terminator or
//     type byte yields a protocol error, which is fatal for the connection
//     that produced it
//
// The codec is protocol-version aware but semantics-free: it never decides
// whether a decoded value is a command reply or an unsolicited push. That
// classification lives in the dispatch package.
//
// Thread Safety:
//
//	A Reader is owned by exactly one goroutine (the connection read loop).
//	Encoding functions are stateless and safe for concurrent use.
package resp
