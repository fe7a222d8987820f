// Command daqnode runs one end of a DAQ buffer stream: a sender that
// generates verified payloads or a receiver that checks them.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
