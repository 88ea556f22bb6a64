package main

import (
	"fmt"
	"os"

	"jarvis/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s press|release|stop\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}

	cmd := os.Args[1]
	switch cmd {
	case ipc.CmdPress, ipc.CmdRelease, ipc.CmdStop:
	default:
		usage()
	}

	if err := ipc.SendCommand(cmd); err != nil {
		fmt.Println("jarvis-daemon not running:", err)
		os.Exit(1)
	}
}
