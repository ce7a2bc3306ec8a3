// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package topic

import (
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v3"
)

// compressBody LZ4-block-compresses body, returning nil if the result
// would not be smaller (tiny or already-dense payloads): the caller
// falls back to sending body raw rather than paying compression
// overhead for no gain.
func compressBody(body []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(body)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(body, dst, ht[:])
	if err != nil || n <= 0 || n >= len(body) {
		return nil
	}
	return dst[:n]
}

// Compressed frame layout (negotiated per connection via the wire
// handshake's optional x-lz4 header field, spec §6): one flag byte
// (1 = lz4 block follows, 0 = raw), the uncompressed length, the
// on-wire payload length, then the payload.
func writeCompressedFrame(w io.Writer, body []byte) error {
	comp := compressBody(body)
	flag := byte(1)
	payload := comp
	if comp == nil {
		flag = 0
		payload = body
	}
	var hdr [9]byte
	hdr[0] = flag
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readCompressedFrame(r io.Reader) ([]byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	flag := hdr[0]
	origLen := binary.LittleEndian.Uint32(hdr[1:5])
	payloadLen := binary.LittleEndian.Uint32(hdr[5:9])
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if flag == 0 {
		return payload, nil
	}
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
