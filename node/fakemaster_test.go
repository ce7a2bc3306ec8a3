package node_test

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// fakeMaster is a minimal in-memory stand-in for the master directory
// (spec §6), just enough of registerPublisher/registerSubscriber to
// drive an end-to-end node test: it tracks one slave-URI per topic per
// role and returns the other side's URIs on registration.
type fakeMaster struct {
	mu         sync.Mutex
	publishers map[string][]string // topic -> publisher slave URIs
	srv        *httptest.Server
}

func newFakeMaster() *fakeMaster {
	fm := &fakeMaster{publishers: make(map[string][]string)}
	fm.srv = httptest.NewServer(http.HandlerFunc(fm.handle))
	return fm
}

func (fm *fakeMaster) URL() string { return fm.srv.URL + "/" }
func (fm *fakeMaster) Close()      { fm.srv.Close() }

func (fm *fakeMaster) handle(w http.ResponseWriter, r *http.Request) {
	method, params, err := decodeXMLRPCCall(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch method {
	case "registerPublisher":
		topic, slaveURI := params[1], params[3]
		fm.mu.Lock()
		fm.publishers[topic] = appendUnique(fm.publishers[topic], slaveURI)
		fm.mu.Unlock()
		writeTuple(w, 1, "", nil)
	case "unregisterPublisher":
		topic, slaveURI := params[1], params[2]
		fm.mu.Lock()
		fm.publishers[topic] = removeValue(fm.publishers[topic], slaveURI)
		fm.mu.Unlock()
		writeTuple(w, 1, "", []string{"1"})
	case "registerSubscriber":
		topic := params[1]
		fm.mu.Lock()
		uris := append([]string(nil), fm.publishers[topic]...)
		fm.mu.Unlock()
		writeTuple(w, 1, "", uris)
	case "unregisterSubscriber":
		writeTuple(w, 1, "", []string{"1"})
	case "registerService", "unregisterService":
		writeTuple(w, 1, "", []string{"1"})
	default:
		writeTuple(w, 0, "unknown method "+method, nil)
	}
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func removeValue(list []string, v string) []string {
	out := list[:0]
	for _, e := range list {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

//
// minimal XML-RPC decode/encode, mirroring masterapi's own wire
// format so the fake master speaks exactly what Client produces.
//

func decodeXMLRPCCall(r *http.Request) (method string, params []string, err error) {
	var mc struct {
		MethodName string `xml:"methodName"`
		Params     struct {
			Param []struct {
				Value struct {
					String string `xml:"string"`
				} `xml:"value"`
			} `xml:"param"`
		} `xml:"params"`
	}
	if err = xml.NewDecoder(r.Body).Decode(&mc); err != nil {
		return "", nil, err
	}
	for _, p := range mc.Params.Param {
		params = append(params, p.Value.String)
	}
	return mc.MethodName, params, nil
}

func writeTuple(w http.ResponseWriter, status int, message string, value []string) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>`)
	fmt.Fprintf(&b, `<value><int>%d</int></value>`, status)
	b.WriteString(`<value><string>`)
	xml.EscapeText(&b, []byte(message))
	b.WriteString(`</string></value>`)
	b.WriteString(`<value><array><data>`)
	for _, v := range value {
		b.WriteString(`<value><string>`)
		xml.EscapeText(&b, []byte(v))
		b.WriteString(`</string></value>`)
	}
	b.WriteString(`</data></array></value>`)
	b.WriteString(`</data></array></value></param></params></methodResponse>`)
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(b.String()))
}
