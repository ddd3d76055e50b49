package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wachiwi/camstream/pkg/camera"
)

type consoleDevice interface {
	ApplyCommand(name, value string) int
	Status() camera.Status
	Begin(forceInit bool) bool
	End()
}

type portStore interface {
	SetCameraPort(port uint32) error
}

// runConsole reads operator lines from r until EOF or ctx is done.
// A line is either a built-in (status, help, restart, stop, port N) or a
// sensor command written as "name=value" or "name value".
func runConsole(ctx context.Context, r io.Reader, w io.Writer, dev consoleDevice, store portStore) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		handleConsoleLine(line, w, dev, store)
	}
	return sc.Err()
}

func handleConsoleLine(line string, w io.Writer, dev consoleDevice, store portStore) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "status":
		data, err := json.MarshalIndent(dev.Status(), "", "  ")
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	case "help":
		fmt.Fprintln(w, "status | restart | stop | port <n> | <name>=<value>")
		fmt.Fprintln(w, "commands:", strings.Join(dev.Status().Commands, " "))
		return
	case "restart":
		fmt.Fprintln(w, "started:", dev.Begin(true))
		return
	case "stop":
		dev.End()
		fmt.Fprintln(w, "stopped")
		return
	case "port":
		if len(fields) != 2 {
			fmt.Fprintln(w, "usage: port <n>")
			return
		}
		port, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil || port == 0 || port == 65535 {
			fmt.Fprintf(w, "invalid port %q\n", fields[1])
			return
		}
		if err := store.SetCameraPort(uint32(port)); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		fmt.Fprintln(w, "started:", dev.Begin(false))
		return
	}

	name, value, ok := strings.Cut(line, "=")
	if !ok {
		if len(fields) != 2 {
			fmt.Fprintf(w, "unknown input %q, try help\n", line)
			return
		}
		name, value = fields[0], fields[1]
	}
	name = strings.TrimSpace(name)
	rc := dev.ApplyCommand(name, value)
	fmt.Fprintf(w, "%s=%s -> %d\n", name, strings.TrimSpace(value), rc)
}
