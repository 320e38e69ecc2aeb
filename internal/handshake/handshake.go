// Package handshake implements the RTMP C0/C1/C2, S0/S1/S2 handshake,
// including the HMAC-SHA256 "digest" scheme used by Flash-compatible
// peers, with scheme discovery and a strict verification mode.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	PacketBytes     = 1536
	ProtocolVersion = 3
	digestSize      = 32
)

var (
	ErrVersionMismatch   = errors.New("handshake: unsupported protocol version")
	ErrResponseMismatch  = errors.New("handshake: response verification failed")
	ErrNoSchemeDiscovered = errors.New("handshake: could not determine a digest scheme")
)

// sharedKeySuffix is appended to the short Adobe product keys to form the
// full HMAC keys used in the second digest round.
var sharedKeySuffix = []byte{
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8,
	0x2e, 0x00, 0xd0, 0xd1, 0x02, 0x9e, 0x7e, 0x57,
	0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

const (
	fmsKey = "Genuine Adobe Flash Media Server 001"
	fpKey  = "Genuine Adobe Flash Player 001"
)

var (
	fullFMSKey = append([]byte(fmsKey), sharedKeySuffix...)
	fullFPKey  = append([]byte(fpKey), sharedKeySuffix...)
)

// Scheme identifies which of the two known digest-offset layouts a peer's
// handshake packet uses.
type Scheme int

const (
	Scheme1 Scheme = iota // offset derived from bytes [8:12]
	Scheme2               // offset derived from bytes [772:776]
)

func offsetExtractor(scheme Scheme, data []byte) int {
	var pos int
	switch scheme {
	case Scheme1:
		pos = 8
	case Scheme2:
		pos = 772
	}
	sum := 0
	for _, b := range data[pos : pos+4] {
		sum += int(b)
	}
	shift := 12
	if scheme == Scheme2 {
		shift = 776
	}
	return sum%728 + shift
}

// clientVersion is a 4-byte Flash Player compatibility version, as carried
// in bytes [4:8] of a client handshake packet.
type clientVersion [4]byte

var noVersion = clientVersion{0, 0, 0, 0}

// schemeByMinVersion pairs a minimum client version with the scheme it
// implies, ordered from newest to oldest, mirroring the reference
// implementation's version table.
var schemeByMinVersion = []struct {
	min    clientVersion
	scheme Scheme
}{
	{clientVersion{10, 0, 32, 0}, Scheme2},
	{clientVersion{9, 0, 115, 0}, Scheme1},
}

// DefaultClientCompatVersion is the newest known client version, used when
// acting as the client role.
var DefaultClientCompatVersion = clientVersion{10, 0, 32, 2}

// DefaultServerCompatVersion is the server version advertised in S1.
var DefaultServerCompatVersion = clientVersion{3, 0, 1, 1}

func (v clientVersion) less(o clientVersion) bool {
	for i := 0; i < 4; i++ {
		if v[i] != o[i] {
			return v[i] < o[i]
		}
	}
	return false
}

func schemeForVersion(v clientVersion) (Scheme, bool) {
	for _, e := range schemeByMinVersion {
		if !v.less(e.min) {
			return e.scheme, true
		}
	}
	return 0, false
}

func hmacSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func msTime(t time.Duration) uint32 {
	return uint32(t.Milliseconds())
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// Handshaker drives one side of an RTMP handshake. A Handshaker is used
// once, for a single connection.
type Handshaker struct {
	IsClient bool

	// Strict, when true (the default), requires a verified digest
	// response before accepting the handshake; when false, a peer whose
	// scheme could not be confirmed is still accepted (relaxed mode).
	Strict bool

	epoch time.Time

	compatVersion   clientVersion
	digestExtractor func([]byte) int // nil => plain, non-crypto handshake
}

// NewServer returns a Handshaker for the server (listening) role.
func NewServer() *Handshaker {
	return &Handshaker{Strict: true, epoch: time.Now(), compatVersion: DefaultServerCompatVersion}
}

// NewClient returns a Handshaker for the client (connecting) role,
// preconfigured to attempt the crypto digest handshake using the newest
// known client version.
func NewClient() *Handshaker {
	h := &Handshaker{IsClient: true, Strict: true, epoch: time.Now()}
	if scheme, ok := schemeForVersion(DefaultClientCompatVersion); ok {
		h.compatVersion = DefaultClientCompatVersion
		s := scheme
		h.digestExtractor = func(b []byte) int { return offsetExtractor(s, b) }
	} else {
		h.compatVersion = noVersion
	}
	return h
}

func (h *Handshaker) selectOwnKeyShort() string {
	if h.IsClient {
		return fpKey
	}
	return fmsKey
}

func (h *Handshaker) selectOwnKey() []byte {
	if h.IsClient {
		return fullFPKey
	}
	return fullFMSKey
}

func (h *Handshaker) selectOtherKeyShort() string {
	if h.IsClient {
		return fmsKey
	}
	return fpKey
}

func (h *Handshaker) selectOtherKey() []byte {
	if h.IsClient {
		return fullFMSKey
	}
	return fullFPKey
}

func (h *Handshaker) checkClientScheme(scheme Scheme, data []byte) bool {
	offset := offsetExtractor(scheme, data)
	if offset+digestSize > len(data) {
		return false
	}
	msg := make([]byte, 0, len(data)-digestSize)
	msg = append(msg, data[:offset]...)
	msg = append(msg, data[offset+digestSize:]...)
	digest := hmacSHA256([]byte(h.selectOtherKeyShort()), msg)
	return hmac.Equal(digest, data[offset:offset+digestSize])
}

// discoverClientScheme inspects a received C1 packet and determines which
// digest scheme (if any) the client used, first trying the scheme implied
// by the client's announced version, then falling back to every other
// known scheme, and finally (in relaxed mode only) defaulting to Scheme1.
func (h *Handshaker) discoverClientScheme(context []byte) (func([]byte) int, bool) {
	var ver clientVersion
	copy(ver[:], context[4:8])

	if ver == noVersion {
		return nil, false
	}

	if scheme, ok := schemeForVersion(ver); ok {
		if h.checkClientScheme(scheme, context) {
			s := scheme
			return func(b []byte) int { return offsetExtractor(s, b) }, true
		}
	}

	for _, e := range schemeByMinVersion {
		if h.checkClientScheme(e.scheme, context) {
			s := e.scheme
			return func(b []byte) int { return offsetExtractor(s, b) }, true
		}
	}

	if !h.Strict {
		return func(b []byte) int { return offsetExtractor(Scheme1, b) }, true
	}
	return nil, false
}

func (h *Handshaker) generateBaseRequest() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out, msTime(time.Since(h.epoch)))
	out[4], out[5], out[6], out[7] = h.compatVersion[0], h.compatVersion[1], h.compatVersion[2], h.compatVersion[3]
	return append(out, randomBytes(PacketBytes-8)...)
}

// GenerateRequest builds this side's handshake packet (C1 for a client,
// S1 for a server). context is the peer's already-received packet (nil
// for a client, the just-read C1 for a server) and is used for server-side
// scheme discovery.
func (h *Handshaker) GenerateRequest(context []byte) []byte {
	base := h.generateBaseRequest()

	if h.IsClient {
		if h.digestExtractor == nil {
			return base
		}
	} else {
		extractor, ok := h.discoverClientScheme(context)
		if !ok {
			return base
		}
		h.digestExtractor = extractor
	}

	request := base[:PacketBytes-digestSize]
	offset := h.digestExtractor(request)
	digest := hmacSHA256([]byte(h.selectOwnKeyShort()), request)

	out := make([]byte, 0, PacketBytes)
	out = append(out, request[:offset]...)
	out = append(out, digest...)
	out = append(out, request[offset:]...)
	return out
}

func (h *Handshaker) generateSimpleResponse(request []byte) []byte {
	out := make([]byte, 0, PacketBytes)
	out = append(out, request[0:4]...)
	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, msTime(time.Since(h.epoch)))
	out = append(out, ts...)
	out = append(out, request[8:]...)
	return out
}

// GenerateResponse builds this side's response to the peer's request
// packet (S2 for a server responding to C1, C2 for a client responding to
// S1).
func (h *Handshaker) GenerateResponse(request []byte) []byte {
	if h.digestExtractor == nil {
		return h.generateSimpleResponse(request)
	}

	offset := h.digestExtractor(request)
	reqDigest := request[offset : offset+digestSize]
	digestKey := hmacSHA256(h.selectOwnKey(), reqDigest)

	response := randomBytes(PacketBytes - digestSize)
	digest := hmacSHA256(digestKey, response)
	return append(response, digest...)
}

func verifySimpleResponse(request, response []byte) bool {
	return hmac.Equal(request[0:4], response[0:4]) && hmac.Equal(request[8:], response[8:])
}

// VerifyResponse checks the peer's response against the request this side
// sent. In relaxed (non-strict) mode, a request with no discovered digest
// scheme is accepted unconditionally.
func (h *Handshaker) VerifyResponse(request, response []byte) bool {
	if h.digestExtractor == nil {
		if !h.Strict {
			return true
		}
		return verifySimpleResponse(request, response)
	}

	offset := h.digestExtractor(request)
	reqDigest := request[offset : offset+digestSize]
	digestKey := hmacSHA256(h.selectOtherKey(), reqDigest)
	digest := hmacSHA256(digestKey, response[:PacketBytes-digestSize])

	if !h.Strict {
		return true
	}
	return subtle.ConstantTimeCompare(digest, response[len(response)-digestSize:]) == 1
}

// Do performs the full handshake over conn, blocking until it completes or
// fails.
func (h *Handshaker) Do(conn io.ReadWriter) error {
	if h.IsClient {
		return h.doClient(conn)
	}
	return h.doServer(conn)
}

func readFull(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	return b, err
}

func (h *Handshaker) doClient(conn io.ReadWriter) error {
	c1 := h.GenerateRequest(nil)
	if _, err := conn.Write([]byte{ProtocolVersion}); err != nil {
		return err
	}
	if _, err := conn.Write(c1); err != nil {
		return err
	}

	s0, err := readFull(conn, 1)
	if err != nil {
		return err
	}
	if s0[0] != ProtocolVersion {
		return ErrVersionMismatch
	}

	s1, err := readFull(conn, PacketBytes)
	if err != nil {
		return err
	}

	// S2 is read before C2 is written: the server sends S2 right after S1,
	// so on an unbuffered transport both sides would otherwise block
	// writing.
	s2, err := readFull(conn, PacketBytes)
	if err != nil {
		return err
	}

	c2 := h.GenerateResponse(s1)
	if _, err := conn.Write(c2); err != nil {
		return err
	}

	if !h.VerifyResponse(c1, s2) {
		return ErrResponseMismatch
	}
	return nil
}

func (h *Handshaker) doServer(conn io.ReadWriter) error {
	c0, err := readFull(conn, 1)
	if err != nil {
		return err
	}
	if c0[0] != ProtocolVersion {
		return ErrVersionMismatch
	}

	c1, err := readFull(conn, PacketBytes)
	if err != nil {
		return err
	}

	s1 := h.GenerateRequest(c1)
	if _, err := conn.Write([]byte{ProtocolVersion}); err != nil {
		return err
	}
	if _, err := conn.Write(s1); err != nil {
		return err
	}

	s2 := h.GenerateResponse(c1)
	if _, err := conn.Write(s2); err != nil {
		return err
	}

	c2, err := readFull(conn, PacketBytes)
	if err != nil {
		return err
	}

	if !h.VerifyResponse(s1, c2) {
		return ErrResponseMismatch
	}
	return nil
}
