package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/flowmeta/cmd"
	"grimm.is/flowmeta/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultConfig := brand.DefaultConfigPath()

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", defaultConfig, "Configuration file")
		runFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		runFlags.Parse(os.Args[2:])

		if err := cmd.RunDaemon(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "replay":
		replayFlags := flag.NewFlagSet("replay", flag.ExitOnError)
		configFile := replayFlags.String("config", "", "Configuration file (defaults if empty)")
		replayFlags.StringVar(configFile, "c", "", "Configuration file (short)")
		readFile := replayFlags.String("read", "", "pcap file to replay (default: capture.file)")
		replayFlags.StringVar(readFile, "r", "", "pcap file to replay (short)")
		asJSON := replayFlags.Bool("json", false, "Print the flow table as JSON")
		replayFlags.Parse(os.Args[2:])

		if *readFile == "" && replayFlags.NArg() > 0 {
			*readFile = replayFlags.Arg(0)
		}
		if err := cmd.RunReplay(*configFile, *readFile, *asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := checkFlags.String("config", defaultConfig, "Configuration file")
		checkFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		printConfig := checkFlags.Bool("print", false, "Print the effective configuration")
		checkFlags.Parse(os.Args[2:])

		if checkFlags.NArg() > 0 {
			*configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(*configFile, *printConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		cmd.RunVersion()

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s - %s

Usage:
  %[1]s run     [-c config.hcl]             Capture, classify and serve the API
  %[1]s replay  [-c config.hcl] -r file.pcap Replay a capture and print the flow table
  %[1]s check   [-print] [config.hcl]        Validate configuration and policy
  %[1]s version                            Print version information
`, brand.Name, brand.Description)
}
