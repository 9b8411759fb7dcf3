package main

import (
	stdlog "log"

	"github.com/joho/godotenv"
	"github.com/safedep/dry/log"

	"github.com/sandboxrt/launchd/cmd/launchd"
	"github.com/sandboxrt/launchd/internal/usefulerror"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		stdlog.Println("No .env file found or failed to load")
	}

	log.InitZapLogger("launchd", "prod")

	if err := launchd.NewRootCommand().Execute(); err != nil {
		usefulerror.ExitOnError(err)
	}
}
