package main

import (
	"fmt"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	sagaredis "github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/redis"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newUnlockCommand(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release the lock of a saga instance",
		Long: `Unlock deletes the Redis lock of a saga instance regardless of its owner.
Use it only when the consumer holding the lock is known to be gone; the lock
expires by itself after its hold TTL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			correlationID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid saga id %q: %w", id, err)
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			client, err := sagaredis.NewClient(ctx, a.config.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			name := saga.LockName(a.config.Saga.KeyPrefix, correlationID)
			released, err := sagaredis.NewLockProvider(client).Release(ctx, name)
			if err != nil {
				return err
			}
			if !released {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not locked\n", name)
				return nil
			}
			a.logger.Info("saga lock released", zap.String("lock", name))
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "correlation id of the saga")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
