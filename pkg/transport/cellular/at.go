// Copyright 2025 UMH Systems GmbH
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

package cellular

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// serialPort is the slice of go.bug.st/serial.Port the AT channel needs.
// Tests substitute a scripted implementation.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// atReadWindow is how long a single blocking read waits before the channel
// re-checks its command deadline and the caller's context.
const atReadWindow = 50 * time.Millisecond

// atChannel runs the command/answer conversation with the modem. One command
// is in flight at a time; the adapter guarantees that by construction.
type atChannel struct {
	port    serialPort
	timeout time.Duration
	log     *zap.SugaredLogger
}

// command writes cmd to the modem and accumulates the answer until a terminal
// token (OK or ERROR) arrives or the per-command timeout elapses.
//
// A timeout is not an error: the modem may not implement the command, and the
// caller's matchers simply find nothing in the partial answer. Only serial
// I/O failures and context cancellation surface as errors.
func (c *atChannel) command(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := c.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}

	deadline := time.Now().Add(c.timeout)

	var answer strings.Builder

	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.log.Debugf("%s produced no terminal token within %s", cmd, c.timeout)

			return answer.String(), nil
		}

		window := atReadWindow
		if remaining < window {
			window = remaining
		}
		if err := c.port.SetReadTimeout(window); err != nil {
			return "", fmt.Errorf("arm read timeout for %s: %w", cmd, err)
		}

		// Read returns n == 0 with a nil error when the window expires
		// without data.
		n, err := c.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read %s answer: %w", cmd, err)
		}
		answer.Write(buf[:n])

		if got := answer.String(); strings.Contains(got, "OK") || strings.Contains(got, "ERROR") {
			return got, nil
		}
	}
}

// alive probes the modem with a bare AT and reports whether it answered OK.
func (c *atChannel) alive(ctx context.Context) error {
	answer, err := c.command(ctx, "AT")
	if err != nil {
		return err
	}
	if !strings.Contains(answer, "OK") {
		return fmt.Errorf("modem did not acknowledge AT probe (got %q)", strings.TrimSpace(answer))
	}

	return nil
}
