package discover_test

import (
	"context"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/codec"
	"github.com/gridswarm/corenode/discover"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/rpcsvc"
	"github.com/gridswarm/corenode/wire"
)

// fakePublisher accepts one TCPROS-style handshake and then idles,
// standing in for the real publisher side during reconcile tests.
func fakePublisher(digest string) (addr string, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if _, err := wire.ReadFrom(conn); err != nil {
					return
				}
				reply := wire.NewHeader()
				reply.Set(wire.FieldMD5Checksum, digest)
				reply.Set(wire.FieldType, "demo/String")
				wire.WriteTo(conn, reply)
				buf := make([]byte, 1)
				conn.Read(buf)
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func boolCodec() codec.Codec {
	return codec.Codec{
		Serialize:   func(v any) ([]byte, error) { return []byte("x"), nil },
		Deserialize: func(b []byte) (any, error) { return string(b), nil },
	}
}

var _ = Describe("Manager", func() {
	It("connects to every publisher in the target set", func() {
		addr, stop := fakePublisher("abc123")
		defer stop()

		decl := ident.TopicDecl{ID: ident.TopicID{Name: "/chatter"}, TypeName: "demo/String", Digest: "abc123"}
		rt := func(ctx context.Context, slaveURI string, topicName, callerID ident.Name) (string, error) {
			return addr, nil
		}
		m := discover.NewManager(decl, "/listener", boolCodec(), rpcsvc.NewPool(), rt, false)
		defer m.Shutdown()

		pub := ident.PublisherID{Node: ident.NodeID{Name: "/talker", SlaveURI: "127.0.0.1:0"}, Topic: decl.ID}
		m.Reconcile([]ident.PublisherID{pub})

		Eventually(m.NumConnections, time.Second).Should(Equal(1))
	})

	It("tears down connections removed from the target set", func() {
		addr, stop := fakePublisher("abc123")
		defer stop()

		decl := ident.TopicDecl{ID: ident.TopicID{Name: "/chatter"}, TypeName: "demo/String", Digest: "abc123"}
		rt := func(ctx context.Context, slaveURI string, topicName, callerID ident.Name) (string, error) {
			return addr, nil
		}
		m := discover.NewManager(decl, "/listener", boolCodec(), rpcsvc.NewPool(), rt, false)
		defer m.Shutdown()

		pub := ident.PublisherID{Node: ident.NodeID{Name: "/talker", SlaveURI: "127.0.0.1:0"}, Topic: decl.ID}
		m.Reconcile([]ident.PublisherID{pub})
		Eventually(m.NumConnections, time.Second).Should(Equal(1))

		m.Reconcile(nil)
		Eventually(m.NumConnections, time.Second).Should(Equal(0))
	})

	It("rejects a handshake with an incompatible digest", func() {
		addr, stop := fakePublisher("mismatch")
		defer stop()

		decl := ident.TopicDecl{ID: ident.TopicID{Name: "/chatter"}, TypeName: "demo/String", Digest: "abc123"}
		rt := func(ctx context.Context, slaveURI string, topicName, callerID ident.Name) (string, error) {
			return addr, nil
		}
		m := discover.NewManager(decl, "/listener", boolCodec(), rpcsvc.NewPool(), rt, false)
		defer m.Shutdown()

		var mu sync.Mutex
		var reported error
		m.OnError(func(_ ident.PublisherID, err error) {
			mu.Lock()
			reported = err
			mu.Unlock()
		})

		pub := ident.PublisherID{Node: ident.NodeID{Name: "/talker", SlaveURI: "127.0.0.1:0"}, Topic: decl.ID}
		m.Reconcile([]ident.PublisherID{pub})

		Consistently(m.NumConnections, 200*time.Millisecond).Should(Equal(0))
		Eventually(func() error {
			mu.Lock()
			defer mu.Unlock()
			return reported
		}, time.Second).Should(HaveOccurred())
	})
})
