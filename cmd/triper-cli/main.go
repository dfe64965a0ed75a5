package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cli := NewCLIWithDefaults()
	defer cli.Close()

	var err error

	switch os.Args[1] {
	case "status":
		err = cli.Status()
	case "publish":
		err = cli.Publish(os.Args[2:])
	case "find":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: triper-cli find <trip-id>")
			os.Exit(1)
		}
		err = cli.Find(os.Args[2])
	case "matches":
		err = cli.Matches()
	case "accept":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: triper-cli accept <match-id>")
			os.Exit(1)
		}
		err = cli.Accept(os.Args[2])
	case "reject":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: triper-cli reject <match-id>")
			os.Exit(1)
		}
		err = cli.Reject(os.Args[2])
	case "reveal":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: triper-cli reveal <match-id>")
			os.Exit(1)
		}
		err = cli.Reveal(os.Args[2])
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`triper-cli - control the triper agent daemon

Usage:
  triper-cli <command> [arguments]

Commands:
  status                     Show daemon status
  publish [flags]            Publish a trip (see publish -h)
  find <trip-id>             Search and score match candidates for a trip
  matches                    List pending matches
  accept <match-id>          Accept a match
  reject <match-id>          Reject a match
  reveal <match-id>          Show the counterparty trip of a mutual match
  help                       Show this help`)
}
