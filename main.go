// The main package for the dispatchd executable.
package main

import (
	"github.com/calderhq/dispatch/cmd"
)

func main() {
	cmd.Execute()
}
