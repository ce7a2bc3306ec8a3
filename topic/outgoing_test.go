package topic_test

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/topic"
)

func stringCodec() codec.Codec {
	return codec.Codec{
		Serialize:   func(v any) ([]byte, error) { return []byte(v.(string)), nil },
		Deserialize: func(b []byte) (any, error) { return string(b), nil },
	}
}

func readOneFrame(r io.Reader) string {
	var lb [4]byte
	_, err := io.ReadFull(r, lb[:])
	Expect(err).NotTo(HaveOccurred())
	n := binary.LittleEndian.Uint32(lb[:])
	body := make([]byte, n)
	_, err = io.ReadFull(r, body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

var _ = Describe("OutgoingQueue", func() {
	It("delivers Put sequence in order to an attached peer", func() {
		q := topic.NewOutgoingQueue(stringCodec())
		server, client := net.Pipe()
		defer client.Close()
		q.AddChannel("peer-1", server, false)

		Expect(q.Put("one")).To(Succeed())
		Expect(q.Put("two")).To(Succeed())
		Expect(q.Put("three")).To(Succeed())

		Expect(readOneFrame(client)).To(Equal("one"))
		Expect(readOneFrame(client)).To(Equal("two"))
		Expect(readOneFrame(client)).To(Equal("three"))
	})

	It("delivers the latched value immediately to a late-attached peer", func() {
		q := topic.NewOutgoingQueue(stringCodec())
		q.SetLatch(true)
		Expect(q.Put("hello")).To(Succeed())

		server, client := net.Pipe()
		defer client.Close()
		q.AddChannel("late", server, false)

		Expect(readOneFrame(client)).To(Equal("hello"))
	})

	It("detaches a connection whose write fails", func() {
		q := topic.NewOutgoingQueue(stringCodec())
		server, client := net.Pipe()
		q.AddChannel("bad", server, false)
		client.Close()

		Expect(q.Put("x")).To(Succeed())
		Eventually(func() int { return q.NumConns() }, time.Second).Should(Equal(0))
	})

	It("ignores a duplicate AddChannel id", func() {
		q := topic.NewOutgoingQueue(stringCodec())
		s1, c1 := net.Pipe()
		defer c1.Close()
		s2, _ := net.Pipe()
		q.AddChannel("dup", s1, false)
		q.AddChannel("dup", s2, false)
		Expect(q.NumConns()).To(Equal(1))
	})
})
