// Package admin implements the operator console for a running transfer
// server.
package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/pkg/registry"
)

// Prompt is printed before every command.
const Prompt = "#> "

// Controller is the administrative surface of a transfer server.
type Controller interface {
	// ListConnections returns the registered sessions ordered by ID.
	ListConnections() []registry.SessionInfo

	// Disconnect aborts one session. It returns false for an unknown ID.
	Disconnect(id registry.SessionID) bool

	// StopServer stops accepting, disconnects every session and waits for
	// them to finish.
	StopServer(ctx context.Context) error
}

// RunTerminal reads commands from in and writes results to out until the
// operator stops the server, in reaches EOF, or ctx is cancelled.
//
// Commands:
//
//	list              show connected clients and their progress
//	disconnect <id>   abort one client
//	shutdown | quit   stop the server
func RunTerminal(ctx context.Context, in io.Reader, out io.Writer, ctl Controller) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, Prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch cmd := fields[0]; cmd {
		case "list":
			writeList(out, ctl.ListConnections())

		case "disconnect":
			disconnect(out, ctl, fields[1:])

		case "shutdown", "quit":
			logger.Info("Shutdown requested from admin terminal")
			if err := ctl.StopServer(ctx); err != nil {
				return fmt.Errorf("stop server: %w", err)
			}
			return nil

		default:
			fmt.Fprintf(out, "Unknown command %q\n", cmd)
		}
	}
}

func writeList(out io.Writer, sessions []registry.SessionInfo) {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = strconv.FormatUint(uint64(s.ID), 10)
	}
	fmt.Fprintf(out, "Connected clients = %s\n", strings.Join(ids, ", "))

	for _, s := range sessions {
		filename := s.Info.Filename
		if filename == "" {
			filename = "-"
		}
		fmt.Fprintf(out, "  %d: %s %d/%d bytes\n",
			s.ID, filename, s.Info.BytesTransferred, s.Info.BytesToTransfer)
	}
}

func disconnect(out io.Writer, ctl Controller, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Invalid arguments for `disconnect` command")
		return
	}

	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(out, "Invalid arguments for `disconnect` command")
		return
	}

	id := registry.SessionID(n)
	if ctl.Disconnect(id) {
		fmt.Fprintf(out, "Disconnected client ID %d\n", id)
	} else {
		fmt.Fprintf(out, "Unable to disconnect client ID %d\n", id)
	}
}
