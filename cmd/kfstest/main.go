// Command kfstest runs the end-to-end client scenario against a
// metaserver:
//
//	kfstest <host> <port>
//
// It exits 0 when every step passes and 1 otherwise.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AnishMulay/kfsaccess/clients/kfsaccess"
	"github.com/AnishMulay/kfsaccess/internal/smoke"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: kfstest <meta server> <port>")
		return 1
	}
	port, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		fmt.Fprintf(out, "Bad port %q: %v\n", args[1], err)
		return 1
	}

	fs, err := kfsaccess.NewKfsAccess(args[0], port)
	if err != nil {
		fmt.Fprintf(out, "Unable to setup KfsAccess: %v\n", err)
		return 1
	}
	defer fs.Close()

	if err := smoke.Run(fs, out); err != nil {
		fmt.Fprintf(out, "Test failed: %v\n", err)
		return 1
	}
	return 0
}
