// Command impact imports plate reader and HPLC exports into replicate trials.
//
// Usage:
//
//	impact parse -format tecan_OD -file run1.xlsx
//	impact parse -format default_titers -sheet titers=hplc.csv -output csv
//	impact serve
//	impact push -format tecan_OD -file run1.xlsx -server http://localhost:8080
package main

import (
	"fmt"
	"io"
	"log"
	"os"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("impact: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "parse":
		return runParse(args[1:], stdout)
	case "serve":
		return runServe(args[1:])
	case "push":
		return runPush(args[1:], stdout)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	}
	usage(stdout)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: impact <command> [flags]

commands:
  parse   extract readings from a workbook and print the replicate trials
  serve   run the HTTP service
  push    upload a workbook to a running server

Run "impact <command> -h" for command flags.
`)
}
