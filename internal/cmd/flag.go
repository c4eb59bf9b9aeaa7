package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default bind address for the server command.
const (
	defaultHost = "127.0.0.1"
	defaultPort = "8080"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	required                             bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (environment and .env are read regardless)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output",
		isBool:    true,
	}
	hostFlag = commandLineFlag{
		name:         "host",
		shorthand:    "s",
		defaultValue: defaultHost,
		usage:        "server host",
	}
	portFlag = commandLineFlag{
		name:         "port",
		shorthand:    "p",
		defaultValue: defaultPort,
		usage:        "server port",
	}
	dryRunFlag = commandLineFlag{
		name:   "dry-run",
		usage:  "count what would be removed without deleting anything",
		isBool: true,
	}
	activateFlag = commandLineFlag{
		name:   "activate",
		usage:  "mark imported flows active",
		isBool: true,
	}
	updateFlag = commandLineFlag{
		name:   "update",
		usage:  "overwrite a flow that already exists with the same name and version",
		isBool: true,
	}
)

// initFlags registers the command flags plus the common config and
// quiet flags.
func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append(flags, configFlag, quietFlag)
	for _, flag := range flags {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
		} else {
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

// bindFlags exposes the common flags through viper so the config
// loader can see them.
func bindFlags(cmd *cobra.Command, _ ...commandLineFlag) {
	if err := viper.BindPFlag("config", cmd.Flags().Lookup("config")); err != nil {
		fmt.Printf("failed to bind flag config: %v\n", err)
	}
}
