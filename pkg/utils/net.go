// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"
)

const (
	// ShutdownTimeout bounds waiting for active requests in Serve.
	ShutdownTimeout = 5 * time.Second
)

// IsListeningSocket returns true if connections are accepted on the socket.
func IsListeningSocket(socket string) (bool, error) {
	conn, err := net.Dial("unix", socket)
	if err == nil {
		conn.Close()
		return true, nil
	}

	if errors.Is(err, syscall.ECONNREFUSED) || os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// Listen listens on a TCP address, or on a unix socket if the address is
// prefixed with unix: or is an absolute path. A stale socket left behind
// by an earlier process is removed, a socket still in use is an error.
func Listen(addr string) (net.Listener, error) {
	path, isUnix := strings.CutPrefix(addr, "unix:")
	if !isUnix && !strings.HasPrefix(addr, "/") {
		return net.Listen("tcp", addr)
	}
	if !isUnix {
		path = addr
	}

	listening, err := IsListeningSocket(path)
	if err != nil {
		return nil, err
	}
	if listening {
		return nil, fmt.Errorf("socket %s already in use", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}

	return net.Listen("unix", path)
}

// Serve serves HTTP requests on the listener until the context is done.
// It returns once every active request has completed, or failed to do
// so within ShutdownTimeout.
func Serve(ctx context.Context, l net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(l)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdown); err != nil {
		return fmt.Errorf("failed to shut down server on %s: %w", l.Addr(), err)
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
