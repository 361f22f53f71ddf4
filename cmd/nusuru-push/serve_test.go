package main

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
)

func TestStartHTTPServerReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	errc := make(chan error, 1)
	srv := startHTTPServer(port, http.NotFoundHandler(), time.Second, logger.Discard(), errc)
	defer shutdownHTTP(srv, logger.Discard())

	select {
	case err := <-errc:
		assert.ErrorContains(t, err, "http server on :"+port)
	case <-time.After(2 * time.Second):
		t.Fatal("listen failure was not reported")
	}
}

func TestStartHTTPServerShutdownIsNotAFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	errc := make(chan error, 1)
	srv := startHTTPServer(port, http.NotFoundHandler(), time.Second, logger.Discard(), errc)
	time.Sleep(20 * time.Millisecond)
	shutdownHTTP(srv, logger.Discard())

	select {
	case err := <-errc:
		t.Fatalf("unexpected server error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
