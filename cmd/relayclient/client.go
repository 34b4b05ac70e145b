package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"
)

// fileCommand prefixes an input line that sends a file as one binary frame.
const fileCommand = "/file "

// errInputDone reports that the input ran out and the connection was closed normally.
var errInputDone = errors.New("input closed")

// converse relays lines from in to conn until conn closes, in is exhausted or
// ctx ends. Plain lines become text frames; "/file <path>" sends the file as a
// binary frame. Every received data frame is printed to out.
func converse(ctx context.Context, conn *websocket.Conn, lines <-chan string, out io.Writer, showControls bool) error {
	if showControls {
		conn.SetPingHandler(func(data string) error {
			fmt.Fprintf(out, "< ping %q\n", data)
			_ = conn.WriteControl(websocket.PongMessage, []byte(data), deadline())
			return nil
		})
		conn.SetPongHandler(func(data string) error {
			fmt.Fprintf(out, "< pong %q\n", data)
			return nil
		})
	}
	readErr := make(chan error, 1)
	go func() { readErr <- readLoop(conn, out) }()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
			_ = conn.Close()
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			_ = conn.Close()
			return err
		case line, ok := <-lines:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
				select {
				case <-readErr:
				case <-time.After(2 * time.Second):
				}
				_ = conn.Close()
				return errInputDone
			}
			if err := send(conn, line); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func send(conn *websocket.Conn, line string) error {
	if path, ok := strings.CutPrefix(line, fileCommand); ok {
		data, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// readLoop prints frames until the connection ends. A normal close returns nil.
func readLoop(conn *websocket.Conn, out io.Writer) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("relay closed: %w", err)
			}
			return err
		}
		switch mt {
		case websocket.TextMessage:
			fmt.Fprintf(out, "< %s\n", data)
		case websocket.BinaryMessage:
			fmt.Fprintf(out, "< [binary %s]\n", sizestr.ToString(int64(len(data))))
		}
	}
}
