package main

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/markdingo/netstring"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/systemli/connd/pool"
)

type EchoHandlerTestSuite struct {
	suite.Suite
}

func (s *EchoHandlerTestSuite) encode(payload string) []byte {
	var buf bytes.Buffer
	encoder := netstring.NewEncoder(&buf)
	s.Require().NoError(encoder.EncodeString(netstring.NoKey, payload))
	return buf.Bytes()
}

func (s *EchoHandlerTestSuite) newClient() (*pool.Client, net.Conn) {
	server, client := net.Pipe()
	s.T().Cleanup(func() { _ = client.Close() })
	s.T().Cleanup(func() { _ = server.Close() })
	return &pool.Client{Socket: server, RemoteAddr: server.LocalAddr(), ID: 1}, client
}

func (s *EchoHandlerTestSuite) TestEchoesDecodedFrame() {
	h := newEchoHandler(zap.NewNop(), nil)
	c, client := s.newClient()

	done := make(chan []byte, 1)
	go func() {
		decoder := netstring.NewDecoder(client)
		got, err := decoder.Decode()
		s.Require().NoError(err)
		done <- got
	}()

	frame := s.encode("hello")
	err := h.Handle(context.Background(), c, &pool.Packet{Data: frame})
	s.Require().NoError(err)

	got := <-done
	s.Equal("hello", string(got))
}

func (s *EchoHandlerTestSuite) TestPanicRequestReturnsError() {
	h := newEchoHandler(zap.NewNop(), nil)
	c, _ := s.newClient()

	frame := s.encode("panic")
	err := h.Handle(context.Background(), c, &pool.Packet{Data: frame})
	s.Error(err)
}

func (s *EchoHandlerTestSuite) TestMalformedFrameReturnsError() {
	h := newEchoHandler(zap.NewNop(), nil)
	c, _ := s.newClient()

	err := h.Handle(context.Background(), c, &pool.Packet{Data: []byte("not a netstring")})
	s.Error(err)
}

func TestEchoHandler(t *testing.T) {
	suite.Run(t, new(EchoHandlerTestSuite))
}
