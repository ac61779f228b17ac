package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
)

// Provision creates the tables and the activity queue when they are missing.
func (t *Tables) Provision(ctx context.Context) error {
	for _, c := range []*aztables.Client{t.jobs, t.saved, t.profiles} {
		if _, err := c.CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	if _, err := t.activity.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
		return err
	}
	log.Info("storage provisioned")
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
