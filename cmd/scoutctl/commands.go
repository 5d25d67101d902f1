package main

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "strings"

    "github.com/spf13/cobra"

    "scout/internal/client"
    "scout/internal/ports"
    "scout/internal/streamstate"
)

var (
    pageLimit    int
    detach       bool
    cancelReason string
    historyLimit int
    previewLimit int
)

var triggerCmd = &cobra.Command{
    Use:   "trigger <domain>",
    Short: "Start a run and follow its progress",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        ctx := cmd.Context()
        if detach {
            res, err := api().Run(ctx, args[0], pageLimit)
            if err != nil {
                return err
            }
            return printJSON(cmd.OutOrStdout(), res)
        }
        s, err := api().StartRun(ctx, args[0], pageLimit)
        if err != nil {
            var apiErr *client.APIError
            if errors.As(err, &apiErr) && apiErr.SnapshotID != "" {
                return fmt.Errorf("%w; attach with: scoutctl attach %s", err, apiErr.SnapshotID)
            }
            return err
        }
        return follow(cmd.OutOrStdout(), s)
    },
}

var attachCmd = &cobra.Command{
    Use:   "attach <snapshot-id>",
    Short: "Replay and follow a run in progress",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        s, err := api().Attach(cmd.Context(), args[0])
        if err != nil {
            return err
        }
        return follow(cmd.OutOrStdout(), s)
    },
}

var cancelCmd = &cobra.Command{
    Use:   "cancel <snapshot-id>",
    Short: "Cancel a running run",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        if err := api().Cancel(cmd.Context(), args[0], cancelReason); err != nil {
            return err
        }
        fmt.Fprintf(cmd.OutOrStdout(), "cancelling %s\n", args[0])
        return nil
    },
}

var chatCmd = &cobra.Command{
    Use:   "chat <snapshot-id> <question...>",
    Short: "Ask a question about a published snapshot",
    Args:  cobra.MinimumNArgs(2),
    RunE: func(cmd *cobra.Command, args []string) error {
        s, err := api().Chat(cmd.Context(), args[0], ports.ChatTurn{Question: strings.Join(args[1:], " ")})
        if err != nil {
            return err
        }
        defer s.Close()
        out := cmd.OutOrStdout()
        for {
            ev, err := s.Next()
            if errors.Is(err, io.EOF) {
                return nil
            }
            if err != nil {
                return err
            }
            if err := renderChat(out, ev); err != nil {
                return err
            }
        }
    },
}

var profileCmd = &cobra.Command{
    Use:   "profile",
    Short: "Show the current profile and snapshot history",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        p, err := api().Profile(cmd.Context(), historyLimit)
        if err != nil {
            return err
        }
        return printJSON(cmd.OutOrStdout(), p)
    },
}

var previewCmd = &cobra.Command{
    Use:   "preview <domain>",
    Short: "Rank a site's pages without starting a run",
    Args:  cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        p, err := api().Preview(cmd.Context(), args[0], previewLimit)
        if err != nil {
            return err
        }
        out := cmd.OutOrStdout()
        fmt.Fprintf(out, "%s: %d links mapped\n", p.Domain, p.TotalLinksMapped)
        for _, c := range p.Candidates {
            fmt.Fprintf(out, "%6.1f  %s  %s\n", c.Score, c.URL, strings.Join(c.Reasons, ", "))
        }
        return nil
    },
}

func init() {
    triggerCmd.Flags().IntVar(&pageLimit, "pages", 0, "maximum pages to scrape (server default when 0)")
    triggerCmd.Flags().BoolVar(&detach, "wait", false, "wait for the result instead of streaming progress")
    cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded on the cancelled run")
    profileCmd.Flags().IntVar(&historyLimit, "limit", 0, "number of snapshots to list")
    previewCmd.Flags().IntVar(&previewLimit, "limit", 0, "number of candidates to rank")
}

// follow prints a run's stream until [DONE] and fails if the run did not
// complete.
func follow(out io.Writer, s *client.Stream) error {
    defer s.Close()
    p := newPrinter(out)
    for {
        ev, err := s.Next()
        if errors.Is(err, io.EOF) {
            break
        }
        if err != nil {
            return err
        }
        p.apply(ev)
    }
    switch p.state.Phase {
    case streamstate.PhaseComplete, streamstate.PhaseCancelled:
        return nil
    case streamstate.PhaseFailed:
        return fmt.Errorf("run failed: %s", p.state.Error)
    }
    return fmt.Errorf("stream ended before the run finished")
}

func printJSON(out io.Writer, v any) error {
    enc := json.NewEncoder(out)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}
