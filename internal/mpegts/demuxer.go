package mpegts

import (
	"maps"
	"slices"
)

// Demuxer holds the state of one demux pass: the per-PID stream registry
// and the PMT reassembly buffer. A Demuxer is not safe for concurrent use
// and must not be shared between passes.
type Demuxer struct {
	streams map[uint16]*stream
	section sectionBuffer
	input   []byte
}

// NewDemuxer returns a Demuxer with an empty registry.
func NewDemuxer() *Demuxer {
	return &Demuxer{streams: make(map[uint16]*stream)}
}

// Demux demuxes buf[offset:offset+length] in one pass and returns the
// aggregated result. It fails on the first malformed packet.
func Demux(buf []byte, offset, length int) (*Result, error) {
	d := NewDemuxer()
	if err := d.Demux(buf, offset, length); err != nil {
		return nil, err
	}
	return d.Result(), nil
}

// stream returns the record for pid, creating it on first sight.
func (d *Demuxer) stream(pid uint16) *stream {
	pid &= pidMask
	s, ok := d.streams[pid]
	if !ok {
		s = &stream{pid: pid}
		d.streams[pid] = s
	}
	return s
}

// Demux walks buf[offset:offset+length] in 188-byte packets. The region
// must hold a whole number of packets; a trailing partial packet fails with
// CodeIncompletePacket. Any failure aborts the pass and is returned as an
// *Error. Packet payloads returned by Result alias buf, so the caller must
// not modify buf afterwards.
func (d *Demuxer) Demux(buf []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset > len(buf) || length > len(buf)-offset {
		return &Error{Code: CodeInvalidRange, Offset: offset}
	}
	d.input = buf

	end := offset + length
	for off := offset; ; off += packetSize {
		remaining := end - off
		if remaining == 0 {
			return nil
		}
		if remaining < packetSize {
			return &Error{Code: CodeIncompletePacket, Offset: off}
		}
		if pid, code := d.demuxPacket(buf[off : off+packetSize : off+packetSize]); code != codeOK {
			return &Error{Code: code, Offset: off, PID: pid}
		}
	}
}

// Result aggregates every stream that received payload bytes, keyed by its
// PES stream id. When two PIDs share a stream id the higher PID wins. The
// in-progress payload of each stream is not part of the result.
func (d *Demuxer) Result() *Result {
	res := &Result{Streams: make(map[uint8]*StreamOutput)}
	for _, pid := range slices.Sorted(maps.Keys(d.streams)) {
		s := d.streams[pid]
		if s.byteLength == 0 {
			continue
		}
		res.Streams[s.streamID] = s.output()
	}

	seen := make(map[*byte]struct{})
	for _, id := range slices.Sorted(maps.Keys(res.Streams)) {
		for _, p := range res.Streams[id].Packets {
			if len(p.backing) == 0 {
				continue
			}
			key := &p.backing[0]
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			res.Buffers = append(res.Buffers, p.backing)
		}
	}
	return res
}
