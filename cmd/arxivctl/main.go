package main

import (
	"os"

	"arxivchat/internal/cli"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
