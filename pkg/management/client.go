package management

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	connectTimeout   = 1 * time.Second
	readWriteTimeout = 8 * time.Second
	authTimeout      = 3 * time.Second
)

type ManagementClient struct {
	socketPath string
	password   string
}

func NewManagementClient(socketPath, password string) *ManagementClient {
	return &ManagementClient{socketPath: socketPath, password: password}
}

func (c *ManagementClient) IsManagementServerStarted() bool {
	res, err := c.SendCommand("ping")
	return err == nil && res == pongString
}

// SendCommand sends one command line and returns the response. An empty
// command asks for help.
func (c *ManagementClient) SendCommand(command string) (string, error) {
	if command == "" {
		command = "help"
	}

	conn, err := net.DialTimeout("unix", c.socketPath, connectTimeout)
	if err != nil {
		return "", fmt.Errorf("connecting to daemon socket %s: %w (is the daemon running?)", c.socketPath, err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	if c.password != "" {
		conn.SetDeadline(time.Now().Add(authTimeout))
		if _, err := fmt.Fprintf(conn, "%s\n", c.password); err != nil {
			return "", fmt.Errorf("sending password: %w", err)
		}
		res, err := recvMessage(reader)
		if err != nil {
			return "", fmt.Errorf("reading auth response: %w", err)
		}
		if res != okAuthString {
			return "", fmt.Errorf("auth failure: %s", strings.TrimSpace(res))
		}
	}

	conn.SetDeadline(time.Now().Add(readWriteTimeout))
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}
	res, err := recvMessage(reader)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return strings.TrimSpace(res), nil
}
