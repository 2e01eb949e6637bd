package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tansudb/tansu/config"
	"github.com/tansudb/tansu/flags"
)

var (
	tansuCmd = &cobra.Command{
		Use:               "tansu",
		Short:             "A tuple storage engine",
		Long:              "Tansu is a block structured, self compacting tuple storage engine.",
		PersistentPreRunE: tansuPreRun,
		PersistentPostRun: tansuPostRun,
	}

	logFile   = "tansu.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "tansu.hcl"
	noConfig   = false

	flgs = flags.Config()
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := tansuCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return tansuCmd.Execute()
}

func tansuPreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		err := config.LoadFile(configFile)
		if err != nil {
			return fmt.Errorf("tansu: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("tansu: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("tansu: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("tansu starting")
	return nil
}

func tansuPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("tansu done")

	if logWriter != nil {
		logWriter.Close()
	}
}
