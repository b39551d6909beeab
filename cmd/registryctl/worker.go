package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/worker"
)

var workerRegistryTypes []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one extraction worker loop across all configured environments",
	Long: `Run a single extraction worker: claim a job from whichever configured
environment has one, dispatch it to the registry site driver over a browser
session, persist the classified outcome, and keep a liveness heartbeat going
throughout.

Restrict --registry-type to specialize this worker to a subset of registry
types (index, deed, rdprm, personal-rights, cadastral-plan); omit it to
accept any type.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, err := loadConfigManager(cfgFile, logger)
		if err != nil {
			return err
		}

		a, err := buildApp(ctx, cfgMgr.Get(), logger)
		if err != nil {
			return err
		}

		identity := worker.NewIdentity()
		publisher := heartbeatPublisher(a)
		w := worker.New(identity, a.workerBindings, a.driver, a.sessions, publisher, logger, worker.Config{
			RegistryTypes: workerRegistryTypes,
		})

		logger.Info("extraction worker starting", "worker_id", identity.WorkerID)
		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerRegistryTypes, "registry-type", nil,
		"restrict this worker to these registry types (default: all)")
	rootCmd.AddCommand(workerCmd)
}
