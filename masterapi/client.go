// Package masterapi is the XML-RPC client for the master directory
// (spec §6): registration, lookup, and system-state queries. The wire
// format here is plain net/http + encoding/xml; none of the example
// repos in the corpus carry an XML-RPC client, so this is the one
// ambient concern in this module built on the standard library rather
// than a third-party dependency (see DESIGN.md).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package masterapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gridswarm/corenode/cmn/cos"
)

// Client speaks the directory RPC surface of spec §6 over XML-RPC.
type Client struct {
	masterURI string
	http      *http.Client
}

func NewClient(masterURI string) *Client {
	return &Client{masterURI: masterURI, http: &http.Client{Timeout: 15 * time.Second}}
}

// reply mirrors the 3-tuple every call returns: [status-code,
// status-message, value].
type reply struct {
	status  int
	message string
	value   any
}

func (c *Client) RegisterService(ctx context.Context, caller, service, serviceURI, slaveURI string) error {
	_, err := c.call(ctx, "registerService", caller, service, serviceURI, slaveURI)
	return err
}

func (c *Client) UnregisterService(ctx context.Context, caller, service, serviceURI string) (int, error) {
	r, err := c.call(ctx, "unregisterService", caller, service, serviceURI)
	if err != nil {
		return 0, err
	}
	return asInt(r.value), nil
}

// RegisterSubscriber returns the current publisher slave-URIs (spec
// §6), handed verbatim to discover.Manager as the first target set.
func (c *Client) RegisterSubscriber(ctx context.Context, caller, topic, typeName, slaveURI string) ([]string, error) {
	r, err := c.call(ctx, "registerSubscriber", caller, topic, typeName, slaveURI)
	if err != nil {
		return nil, err
	}
	return asStringSlice(r.value), nil
}

func (c *Client) UnregisterSubscriber(ctx context.Context, caller, topic, slaveURI string) (int, error) {
	r, err := c.call(ctx, "unregisterSubscriber", caller, topic, slaveURI)
	if err != nil {
		return 0, err
	}
	return asInt(r.value), nil
}

func (c *Client) RegisterPublisher(ctx context.Context, caller, topic, typeName, slaveURI string) ([]string, error) {
	r, err := c.call(ctx, "registerPublisher", caller, topic, typeName, slaveURI)
	if err != nil {
		return nil, err
	}
	return asStringSlice(r.value), nil
}

func (c *Client) UnregisterPublisher(ctx context.Context, caller, topic, slaveURI string) (int, error) {
	r, err := c.call(ctx, "unregisterPublisher", caller, topic, slaveURI)
	if err != nil {
		return 0, err
	}
	return asInt(r.value), nil
}

func (c *Client) LookupNode(ctx context.Context, caller, name string) (string, error) {
	r, err := c.call(ctx, "lookupNode", caller, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(r.value), nil
}

func (c *Client) LookupService(ctx context.Context, caller, name string) (string, error) {
	r, err := c.call(ctx, "lookupService", caller, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(r.value), nil
}

func (c *Client) GetUri(ctx context.Context, caller string) (string, error) {
	r, err := c.call(ctx, "getUri", caller)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(r.value), nil
}

// call issues one XML-RPC methodCall against the master and unwraps
// the [status-code, status-message, value] tuple, translating a
// non-success status into cos.ErrMasterStatus (spec §7).
func (c *Client) call(ctx context.Context, method string, params ...string) (*reply, error) {
	return callRPC(ctx, c.http, c.masterURI, method, params...)
}

// CallPeer issues the same XML-RPC envelope against an arbitrary peer
// URI (a node's own slaveapi endpoint, spec §6's requestTopic /
// publisherUpdate), reusing the master client's HTTP transport and
// wire encoding rather than standing up a second XML-RPC stack.
func (c *Client) CallPeer(ctx context.Context, uri, method string, params ...string) (status int, message string, value any, err error) {
	r, err := callRPC(ctx, c.http, uri, method, params...)
	if err != nil {
		return 0, "", nil, err
	}
	return r.status, r.message, r.value, nil
}

func callRPC(ctx context.Context, client *http.Client, uri, method string, params ...string) (*reply, error) {
	body := encodeCall(method, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "%s: %v", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrTransport, "%s: read body: %v", method, err)
	}
	if cos.IsUnreachable(nil, resp.StatusCode) {
		return nil, cos.Wrapf(cos.ErrTransport, "%s: http status %d", method, resp.StatusCode)
	}

	r, err := decodeReply(raw)
	if err != nil {
		return nil, cos.Wrapf(cos.ErrMalformedHeader, "%s: %v", method, err)
	}
	if r.status != 1 {
		return nil, cos.Wrapf(cos.ErrMasterStatus, "%s: status=%d message=%q", method, r.status, r.message)
	}
	return r, nil
}

//
// minimal XML-RPC wire encoding/decoding: just enough for the string
// params and the [int, string, value] tuple this surface uses.
//

func encodeCall(method string, params []string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0"?><methodCall><methodName>`)
	xml.EscapeText(&b, []byte(method))
	b.WriteString(`</methodName><params>`)
	for _, p := range params {
		b.WriteString(`<param><value><string>`)
		xml.EscapeText(&b, []byte(p))
		b.WriteString(`</string></value></param>`)
	}
	b.WriteString(`</params></methodCall>`)
	return b.Bytes()
}

type xmlValue struct {
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	String  *string    `xml:"string"`
	Array   *xmlArray  `xml:"array"`
	Boolean *string    `xml:"boolean"`
	Raw     string     `xml:",chardata"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

type xmlMethodResponse struct {
	Params struct {
		Param struct {
			Value xmlValue `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
}

func decodeReply(raw []byte) (*reply, error) {
	var mr xmlMethodResponse
	if err := xml.Unmarshal(raw, &mr); err != nil {
		return nil, err
	}
	top := mr.Params.Param.Value
	if top.Array == nil || len(top.Array.Values) < 3 {
		return nil, fmt.Errorf("expected 3-tuple response, got %q", string(raw))
	}
	status := asInt(decodeValue(top.Array.Values[0]))
	message := fmt.Sprint(decodeValue(top.Array.Values[1]))
	value := decodeValue(top.Array.Values[2])
	return &reply{status: status, message: message, value: value}, nil
}

func decodeValue(v xmlValue) any {
	switch {
	case v.Int != nil:
		n, _ := strconv.Atoi(strings.TrimSpace(*v.Int))
		return n
	case v.I4 != nil:
		n, _ := strconv.Atoi(strings.TrimSpace(*v.I4))
		return n
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean) == "1"
	case v.Array != nil:
		out := make([]any, len(v.Array.Values))
		for i, e := range v.Array.Values {
			out[i] = decodeValue(e)
		}
		return out
	case v.String != nil:
		return *v.String
	default:
		return strings.TrimSpace(v.Raw)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, fmt.Sprint(e))
	}
	return out
}
