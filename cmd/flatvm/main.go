// Command flatvm boots a Linux kernel in a single-vcpu KVM virtual machine and
// copies its serial console to stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flatvm: %v\n", err)
		os.Exit(1)
	}
}
