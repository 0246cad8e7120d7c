// Command goldzone runs the chatbot-log gold-zone pipeline: the transform,
// prep and write-metrics batch jobs, the scheduled server and the schema
// migrations.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load() won't overwrite existing vars, Overload() will, so local
	// development values in .env.local win.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
