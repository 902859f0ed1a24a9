package main

import (
	"fmt"
	"os"

	"github.com/sigmaproto/sigma/build"
	"github.com/sigmaproto/sigma/sigcfg"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[sigmacli] %v\n", err)
	os.Exit(1)
}

// appVersion returns the version string shown by --version. Development
// builds are marked as such.
func appVersion() string {
	version := build.Version() + " commit=" + build.Commit
	if build.IsDevBuild() {
		version += " deployment=" + build.Deployment.String()
	}

	return version
}

// newApp assembles the command line application.
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sigmacli"
	app.Version = appVersion()
	app.Usage = "sign and verify transaction outputs with embedded " +
		"signature instances"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "configfile, C",
			Usage:     "path to the config file",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "sigmadir",
			Value:     sigcfg.DefaultSigmaDir,
			Usage:     "path to the base directory of config and logs",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "the network addresses are derived for, e.g. " +
				"mainnet, testnet, etc.",
		},
		cli.StringFlag{
			Name:  "debuglevel, d",
			Usage: "logging level for all subsystems",
		},
		cli.StringFlag{
			Name:      "logdir",
			Usage:     "directory to log output",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name:  "nologfile",
			Usage: "do not write a rotating log file",
		},
	}
	app.Before = setup
	app.After = teardown
	app.Commands = []cli.Command{
		signCommand,
		remoteSignCommand,
		verifyCommand,
		inspectCommand,
	}

	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}
