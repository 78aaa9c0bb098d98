package netpoll

import (
	"net"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConnTestSuite struct {
	suite.Suite
}

func (s *ConnTestSuite) TestPeek1ThenReadReturnsSameByte() {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server)

	go func() { _, _ = client.Write([]byte{0x42, 0x43}) }()

	scratch := make([]byte, 1)
	n, err := c.Peek1(scratch)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(byte(0x42), scratch[0])

	// A second Peek1 without an intervening Read must return the same
	// cached byte, not consume a new one from the stream.
	n, err = c.Peek1(scratch)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(byte(0x42), scratch[0])

	buf := make([]byte, 2)
	n, err = c.Read(buf)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal([]byte{0x42, 0x43}, buf)
}

func (s *ConnTestSuite) TestReadWithoutPeekPassesThrough() {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server)
	go func() { _, _ = client.Write([]byte("hello")) }()

	buf := make([]byte, 5)
	n, err := c.Read(buf)
	s.Require().NoError(err)
	s.Equal(5, n)
	s.Equal("hello", string(buf))
}

func (s *ConnTestSuite) TestPartialReadDrainsPeekedByteFirst() {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server)
	go func() { _, _ = client.Write([]byte("abc")) }()

	scratch := make([]byte, 1)
	_, err := c.Peek1(scratch)
	s.Require().NoError(err)

	buf := make([]byte, 1)
	n, err := c.Read(buf)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(byte('a'), buf[0])

	buf2 := make([]byte, 2)
	n, err = c.Read(buf2)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal("bc", string(buf2))
}

func TestConn(t *testing.T) {
	suite.Run(t, new(ConnTestSuite))
}
