package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fieldcore/runtime/internal/config"
	"github.com/fieldcore/runtime/internal/logging"
	"github.com/fieldcore/runtime/internal/process"
)

var roleFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the runtime daemon",
	Long: `Start the on-robot runtime daemon.

With no --role, run starts the root supervisor, which forks one OS
process per role (broker, device, executor, challenge) and restarts
nothing: a child's exit tears every sibling down. With --role, run
starts only that role's process in the current process, the shape
the supervisor itself spawns via exec.CommandContext.`,
	RunE: runRuntime,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&roleFlag, "role", "", "role to run in this process (broker, device, executor, challenge); omit to run the supervisor")
}

func runRuntime(_ *cobra.Command, _ []string) error {
	logCfg := logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	component := roleFlag
	if component == "" {
		component = "supervisor"
	}
	logger := logging.ForComponent(component)

	if cfgFile := GetConfigFile(); cfgFile != "" {
		logger.Info("using config file", zap.String("path", cfgFile))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := process.NotifyContext()
	defer cancel()

	if roleFlag == "" {
		return runSupervisor(ctx, logger)
	}

	var estop *process.EmergencyStop
	runErr := runRole(ctx, process.Role(roleFlag), cfg, logger)
	if errors.As(runErr, &estop) {
		return estop
	}
	return runErr
}

// runSupervisor forks one subprocess per role and waits for the first to
// exit, per the process model: a role exiting abnormally, or reporting an
// emergency stop, tears every sibling down.
func runSupervisor(ctx context.Context, logger *zap.Logger) error {
	spawner, err := process.NewSpawner(logger)
	if err != nil {
		return fmt.Errorf("failed to build process spawner: %w", err)
	}
	supervisor := process.NewSupervisor(spawner, logger)

	roles := []process.Role{
		process.RoleBroker,
		process.RoleDevice,
		process.RoleExecutor,
		process.RoleChallenge,
	}
	logger.Info("starting runtime supervisor", zap.Int("roles", len(roles)))

	var estop *process.EmergencyStop
	err = supervisor.Run(ctx, roles)
	if errors.As(err, &estop) {
		return estop
	}
	if err != nil {
		logger.Error("supervisor exited with error", zap.Error(err))
		return err
	}
	return nil
}

// runRole starts a single role's process logic in the current process,
// tearing every opened resource down in reverse order on exit.
func runRole(ctx context.Context, role process.Role, cfg *config.Config, logger *zap.Logger) error {
	switch role {
	case process.RoleBroker:
		return runBrokerRole(ctx, cfg, logger)
	case process.RoleDevice:
		return runDeviceRole(ctx, cfg, logger)
	case process.RoleExecutor:
		return runExecutorRole(ctx, cfg, logger)
	case process.RoleChallenge:
		return runChallengeRole(ctx, cfg, logger)
	default:
		return fmt.Errorf("cli: unknown role %q", role)
	}
}
