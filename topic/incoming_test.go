package topic_test

import (
	"encoding/binary"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/rpcsvc"
	"github.com/gridswarm/corenode/topic"
)

func writeOneFrame(w net.Conn, body string) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(body)))
	_, err := w.Write(lb[:])
	Expect(err).NotTo(HaveOccurred())
	_, err = w.Write([]byte(body))
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("IncomingConn", func() {
	It("dispatches received frames to every attached listener", func() {
		server, client := net.Pipe()
		defer client.Close()

		ic := topic.NewIncomingConn(server, stringCodec(), rpcsvc.NewPool(), false, false)
		defer ic.Shutdown()

		got := make(chan string, 4)
		ic.AddListener("l1", func(m topic.Message) { got <- m.Value.(string) })

		go writeOneFrame(client, "hi")

		var v string
		Eventually(got, time.Second).Should(Receive(&v))
		Expect(v).To(Equal("hi"))
	})

	It("delivers the latched value immediately on AddListener", func() {
		server, client := net.Pipe()
		defer client.Close()

		ic := topic.NewIncomingConn(server, stringCodec(), rpcsvc.NewPool(), true, false)
		defer ic.Shutdown()

		go writeOneFrame(client, "latched")
		Eventually(func() int { return ic.NumListeners() }, time.Second).Should(Equal(0))
		time.Sleep(20 * time.Millisecond) // let the dispatch loop latch the value

		got := make(chan string, 1)
		ic.AddListener("late", func(m topic.Message) { got <- m.Value.(string) })

		var v string
		Eventually(got, time.Second).Should(Receive(&v))
		Expect(v).To(Equal("latched"))
	})

	It("removes a listener so it no longer receives dispatches", func() {
		server, client := net.Pipe()
		defer client.Close()

		ic := topic.NewIncomingConn(server, stringCodec(), rpcsvc.NewPool(), false, false)
		defer ic.Shutdown()

		got := make(chan string, 4)
		ic.AddListener("l1", func(m topic.Message) { got <- m.Value.(string) })
		ic.RemoveListener("l1")

		go writeOneFrame(client, "ignored")
		Consistently(got, 100*time.Millisecond).ShouldNot(Receive())
	})
})
