// Command livehub-edgectl is a small operator CLI for inspecting and
// forcing edge-pull behavior against an in-process hub.Hub built from
// the same edge-origin mapping livehub-server uses, rather than a
// network API (spec.md §1 scopes an HTTP control surface out).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liveedge/hub/internal/edgectl"
	"github.com/liveedge/hub/internal/forward"
	"github.com/liveedge/hub/internal/hub"
	"github.com/liveedge/hub/internal/media"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var edgeOrigins []string

	root := &cobra.Command{
		Use:   "livehub-edgectl",
		Short: "Operator CLI for forcing edge pulls and listing live sources",
		Long: `livehub-edgectl builds its own hub.Hub wired with the supplied
edge-origin mappings and drives it directly - it is meant for
integration tests and manual diagnostics, not for talking to a
separately running livehub-server process.`,
	}
	root.PersistentFlags().StringArrayVar(&edgeOrigins, "edge-origin", nil,
		"Edge-pull mapping in format app/stream=rtmp://origin-url (can be specified multiple times)")

	root.AddCommand(newLiveCommand(&edgeOrigins), newPullCommand(&edgeOrigins))
	return root
}

func buildHub(edgeOrigins *[]string) (*hub.Hub, *forward.Puller) {
	h := hub.New(hub.DefaultConfig())
	origins := parseOrigins(*edgeOrigins)
	puller := forward.NewPuller(h, forward.DefaultBackoffPolicy())
	h.SetMissingSourceHook(puller.Hook(func(key media.StreamKey) (string, bool) {
		url, ok := origins[key.App+"/"+key.Stream]
		return url, ok
	}))
	return h, puller
}

func parseOrigins(assignments []string) map[string]string {
	out := make(map[string]string, len(assignments))
	for _, a := range assignments {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

func newLiveCommand(edgeOrigins *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "List currently live (published) stream keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _ := buildHub(edgeOrigins)
			defer h.Close()
			for _, key := range edgectl.ListLive(h) {
				fmt.Fprintln(cmd.OutOrStdout(), key.String())
			}
			return nil
		},
	}
}

func newPullCommand(edgeOrigins *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <app/stream>",
		Short: "Force an edge pull for a stream key against --edge-origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := edgectl.ParseStreamKey(args[0])
			if err != nil {
				return err
			}
			h, _ := buildHub(edgeOrigins)
			defer h.Close()
			edgectl.ForcePull(h, key)
			fmt.Fprintf(cmd.OutOrStdout(), "edge pull triggered for %s\n", key.String())
			return nil
		},
	}
}
