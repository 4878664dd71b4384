// Command starbash is the CLI entry point: it loads configuration,
// assembles an Engine, and dispatches to the Cobra command tree.
package main

import (
	"fmt"
	"os"

	"starbash/internal/cli"
	"starbash/internal/config"
	"starbash/internal/logging"
	"starbash/internal/starbash"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 2
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup logging:", err)
		return 2
	}

	engine, err := starbash.New(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "assemble engine:", err)
		return 2
	}
	defer engine.Close()

	root := cli.NewRoot(engine, log)
	rootCmd := cli.NewRootCmd(root)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
