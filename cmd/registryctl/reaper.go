package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/heartbeat"
)

var reaperCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Reclaim jobs held by workers that stopped heartbeating",
	Long: `Run the reaper loop: periodically scan the control-plane worker
status table for workers past the dead threshold, release any job they were
holding, and mark them offline. Also directly reclaims any claimed job whose
own lease heartbeat has gone stale, independent of the control plane.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, err := loadConfigManager(cfgFile, logger)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}

		environments := make([]heartbeat.EnvironmentJobs, 0, len(a.workerBindings))
		for _, b := range a.workerBindings {
			environments = append(environments, heartbeat.EnvironmentJobs{Name: b.Name, Jobs: b.Store})
		}

		r := heartbeat.NewReaper(a.heartbeatStore, environments, cfg.Heartbeat.TTL, cfg.Heartbeat.Sweep, logger)
		logger.Info("reaper starting")
		return r.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(reaperCmd)
}
