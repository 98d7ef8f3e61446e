package main

import (
	"context"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"stpush/commands"
	"stpush/config"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "debug", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	pushCmd := flag.NewFlagSet("push", flag.ExitOnError)
	pushFolder := pushCmd.String("folder", "default", "Folder to announce into")
	pushName := pushCmd.String("name", "", "Relative path announced to the peer")
	pushFile := pushCmd.String("file", "", "Local file to upload ('-' reads stdin)")
	registerGlobalFlags(pushCmd)

	pushdirCmd := flag.NewFlagSet("pushdir", flag.ExitOnError)
	pushdirFolder := pushdirCmd.String("folder", "default", "Folder to announce into")
	pushdirName := pushdirCmd.String("name", "", "Relative path announced to the peer")
	registerGlobalFlags(pushdirCmd)

	rmCmd := flag.NewFlagSet("rm", flag.ExitOnError)
	rmFolder := rmCmd.String("folder", "default", "Folder to announce into")
	rmName := rmCmd.String("name", "", "Relative path announced to the peer")
	registerGlobalFlags(rmCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg)
	case "push":
		pushCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *pushName == "" || *pushFile == "" {
			log.Fatal("push requires -name and -file")
		}
		commands.RunPush(ctx, loadConfig(*configFile), *pushFolder, *pushName, *pushFile)
	case "pushdir":
		pushdirCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *pushdirName == "" {
			log.Fatal("pushdir requires -name")
		}
		commands.RunPushDir(ctx, loadConfig(*configFile), *pushdirFolder, *pushdirName)
	case "rm":
		rmCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *rmName == "" {
			log.Fatal("rm requires -name")
		}
		commands.RunDelete(ctx, loadConfig(*configFile), *rmFolder, *rmName)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile))
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
