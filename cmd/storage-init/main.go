package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"firetrack/internal/config"
	"firetrack/storage"
)

func main() {
	if config.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	table := config.String("USERS_TABLE", "")
	queue := config.String("CHANGES_QUEUE", "")
	if table == "" && queue == "" {
		log.Fatal("nothing to provision: set USERS_TABLE and/or CHANGES_QUEUE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if table != "" {
		if err := ensureTable(ctx, connStr, table); err != nil {
			log.Fatalf("create table %s: %v", table, err)
		}
		log.WithField("table", table).Info("profiles table ready")
	}
	if queue != "" {
		if err := ensureQueue(ctx, connStr, queue); err != nil {
			log.Fatalf("create queue %s: %v", queue, err)
		}
		log.WithField("queue", queue).Info("change feed queue ready")
	}
}

// alreadyExists reports whether err is the storage service answer for an
// existing resource with the given code.
func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

func ensureTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, storage.TableClientOptions())
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	return nil
}

func ensureQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, storage.QueueClientOptions())
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if err != nil && !alreadyExists(err, "QueueAlreadyExists") {
		return err
	}
	return nil
}
