package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga"
	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/config"
	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/mongodb"
	sagaredis "github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/redis"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// document is a saga instance of any type. It keeps the stored JSON as is.
type document struct {
	saga.Versioned
	raw json.RawMessage
}

func (d *document) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Versioned); err != nil {
		return err
	}
	d.raw = append(d.raw[:0], data...)
	return nil
}

func (d *document) MarshalJSON() ([]byte, error) {
	if d.raw == nil {
		return json.Marshal(d.Versioned)
	}
	return d.raw, nil
}

func newLoadCommand(a *app) *cobra.Command {
	var sagaType, id string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Print a stored saga instance",
		Long: `Load reads one saga instance from the configured store and prints it as JSON.
It takes no lock and writes nothing, MongoDB indexes included.`,
		Example: "  sagactl load --type OrderSaga --id 5f1c0e5e-3f5d-4c9e-9c53-2b8f6f0d9a11",
		RunE: func(cmd *cobra.Command, args []string) error {
			correlationID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid saga id %q: %w", id, err)
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			store, closeStore, err := a.openStore(ctx, sagaType)
			if err != nil {
				return err
			}
			defer closeStore()

			instance, err := load(ctx, store, sagaType, correlationID, a.logger)
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, instance.raw, "", "  "); err != nil {
				return err
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}
	cmd.Flags().StringVarP(&sagaType, "type", "t", "", "saga type name used in the correlation key")
	cmd.Flags().StringVar(&id, "id", "", "correlation id of the saga")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func load(ctx context.Context, store saga.Store[*document], sagaType string, correlationID uuid.UUID, logger *zap.Logger) (*document, error) {
	repo, err := saga.NewRepository[*document](store,
		saga.WithSagaType(sagaType),
		saga.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	instance, err := repo.Load(ctx, correlationID)
	if errors.Is(err, saga.ErrNotFound) {
		return nil, fmt.Errorf("saga %s:%s not found", sagaType, correlationID)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("saga loaded",
		zap.String("saga", sagaType),
		zap.Stringer("correlation_id", correlationID),
		zap.Int("version", instance.GetVersion()))
	return instance, nil
}

func (a *app) openStore(ctx context.Context, sagaType string) (saga.Store[*document], func(), error) {
	cfg := a.config
	switch cfg.Store {
	case config.StoreRedis:
		client, err := sagaredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		store := sagaredis.NewStore[*document](client,
			sagaredis.WithOptions(cfg.Saga),
			sagaredis.WithSagaType(sagaType))
		return store, func() { _ = client.Close() }, nil

	case config.StoreMongoDB:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		disconnect := func() { _ = client.Disconnect(context.Background()) }
		store := mongodb.OpenStore[*document](
			client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection),
			mongodb.WithOptions(cfg.Saga),
			mongodb.WithSagaType(sagaType))
		return store, disconnect, nil

	default:
		return nil, nil, fmt.Errorf("store %q keeps no state outside the consumer process", cfg.Store)
	}
}
