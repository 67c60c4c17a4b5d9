package main

import (
	"os"

	"github.com/joho/godotenv"

	"call-insights-go/cmd"
)

func main() {
	_ = godotenv.Load() // loads .env

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
