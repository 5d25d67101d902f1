// Command scoutctl drives a scout server from the terminal.
package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"

    "scout/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
    Use:           "scoutctl",
    Short:         "Trigger, follow and query scout collection runs",
    SilenceUsage:  true,
    SilenceErrors: true,
}

func init() {
    def := os.Getenv("SCOUT_SERVER")
    if def == "" {
        def = "http://localhost:8080"
    }
    rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "scout server base URL")
    rootCmd.AddCommand(triggerCmd, attachCmd, cancelCmd, chatCmd, profileCmd, previewCmd)
}

func api() *client.Client { return client.New(serverURL, nil) }

func main() {
    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "error:", err)
        os.Exit(1)
    }
}
