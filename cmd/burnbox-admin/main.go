package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/burnbox/cleanup"
	"github.com/tcriess/burnbox/config"
	"github.com/tcriess/burnbox/files"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/room"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
	"github.com/tcriess/burnbox/ws"
)

// A very simple CLI tool for the administration of burnbox rooms and drops.
// It talks to the stores directly, so it needs the same configuration as the
// server; "show stats" is the exception and queries a running server.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	serverURL  = pflag.String("server", "http://localhost:8000", "base URL of a running server (show stats only)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	st, err := store.NewStore(cfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	objects, err := objstore.NewObjectStore(cfg)
	if err != nil {
		panic(err)
	}

	fileSvc := files.NewService(st, objects, cfg.LimitsConfig.MaxRoomTTL())
	roomMgr := room.NewManager(st, fileSvc, ws.NewRegistry(), cfg.LimitsConfig.MaxRoomTTL())

	printJSON := func(v interface{}) {
		raw, err := json.Marshal(v)
		if err != nil {
			globals.AppLogger.Error("could not marshal", "error", err)
			return
		}
		fmt.Println(string(raw))
	}

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show room, drop or stats",
		Long:  `show prints room or drop records, or relay statistics of a running server.`,
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room hash]",
		Short: "Show room",
		Long:  `show room prints the room record with the given hash.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rm, err := roomMgr.Info(context.Background(), args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(rm)
		},
	}
	var cmdShowDrop = &cobra.Command{
		Use:   "drop [drop hash]",
		Short: "Show drop",
		Long:  `show drop prints the drop session record with the given hash.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := st.Get(context.Background(), store.DropKey(args[0]))
			if err != nil {
				globals.AppLogger.Error("could not get drop session", "error", err)
				return
			}
			session := types.DropSession{}
			if err := json.Unmarshal([]byte(raw), &session); err != nil {
				globals.AppLogger.Error("could not decode drop session", "error", err)
				return
			}
			printJSON(session)
		},
	}
	var cmdShowStats = &cobra.Command{
		Use:   "stats",
		Short: "Show server stats",
		Long:  `show stats queries the /healthz endpoint of a running server.`,
		Run: func(cmd *cobra.Command, args []string) {
			client := http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(*serverURL + "/healthz")
			if err != nil {
				globals.AppLogger.Error("could not reach server", "error", err)
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				globals.AppLogger.Error("could not read response", "error", err)
				return
			}
			fmt.Println(string(body))
		},
	}
	var cmdBurn = &cobra.Command{
		Use:   "burn [room hash] [creator id]",
		Short: "Burn room",
		Long:  `burn destroys the room with the given hash, including its messages and files. The creator id must match.`,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			err := roomMgr.Burn(context.Background(), args[0], args[1])
			if err != nil {
				globals.AppLogger.Error("could not burn room", "error", err)
				return
			}
			fmt.Println("room burnt")
		},
	}
	var cmdSweep = &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup sweep",
		Long:  `sweep reconciles the object store against the metadata store once and exits.`,
		Run: func(cmd *cobra.Command, args []string) {
			if objects == nil {
				globals.AppLogger.Error("no object store configured")
				return
			}
			cleanup.NewReconciler(st, objects).Sweep(context.Background())
		},
	}

	var rootCmd = &cobra.Command{Use: "burnbox-admin"}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdBurn)
	rootCmd.AddCommand(cmdSweep)
	cmdShow.AddCommand(cmdShowRoom, cmdShowDrop, cmdShowStats)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
