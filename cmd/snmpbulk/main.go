// Command snmpbulk retrieves SNMP tables and subtrees with bulk requests.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
