// Command storage-init provisions the tables and queue used by study-mate and
// can wait for the session queue to drain.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"study-mate/config"
)

const queueAlreadyExists = "QueueAlreadyExists"

// queueProps is the subset of *azqueue.QueueClient used to poll a queue.
type queueProps interface {
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

func main() {
	var envFile string
	root := &cobra.Command{
		Use:           "storage-init",
		Short:         "Create the study-mate tables and queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStorage(envFile)
			if err != nil {
				return err
			}
			log.Info("storage init starting")
			if err := createTables(cmd.Context(), cfg.ConnectionString, []string{cfg.TasksTable, cfg.SessionsTable, cfg.SettingsTable}); err != nil {
				return err
			}
			if err := createQueues(cmd.Context(), cfg.ConnectionString, []string{cfg.SessionQueue}); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	var (
		timeout  time.Duration
		interval time.Duration
		stable   int
	)
	wait := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the session queue is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStorage(envFile)
			if err != nil {
				return err
			}
			q, err := newQueueClient(cfg.ConnectionString, cfg.SessionQueue)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := pollQueues(ctx, interval, stable, map[string]queueProps{cfg.SessionQueue: q}); err != nil {
				return err
			}
			log.Info("all queues drained")
			return nil
		},
	}
	wait.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait")
	wait.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")
	wait.Flags().IntVar(&stable, "stable", 3, "consecutive empty polls required")
	root.AddCommand(wait)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func loadStorage(envFile string) (config.StorageConfig, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.StorageConfig{}, err
	}
	cfg.ApplyLogLevel()
	if err := cfg.Require(cfg.Storage); err != nil {
		return config.StorageConfig{}, err
	}
	return cfg.Storage, nil
}

func newQueueClient(connStr, name string) (*azqueue.QueueClient, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 5 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := newQueueClient(connStr, name)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, queueAlreadyExists) {
			return err
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

// pollQueues returns once every queue reported zero messages on stable
// consecutive polls.
func pollQueues(ctx context.Context, interval time.Duration, stable int, queues map[string]queueProps) error {
	if stable < 1 {
		stable = 1
	}
	empty := make(map[string]int, len(queues))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		drained := true
		for name, q := range queues {
			resp, err := q.GetProperties(ctx, nil)
			if err != nil {
				return err
			}
			var count int32
			if resp.ApproximateMessagesCount != nil {
				count = *resp.ApproximateMessagesCount
			}
			if count > 0 {
				log.WithField("queue", name).Infof("%d pending message(s)", count)
				empty[name] = 0
				drained = false
				continue
			}
			empty[name]++
			if empty[name] < stable {
				drained = false
			}
		}
		if drained {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
