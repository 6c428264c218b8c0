package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "classeye",
	Short: "Face-recognition attendance engine for classrooms",
	Long: `ClassEye records classroom attendance automatically. It matches faces
from classroom cameras against enrolled student photos, deduplicates
repeated sightings per session, and commits one attendance record per
present student.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
