package secretstore

import (
	"context"
	"errors"
	"time"

	"github.com/rallyops/rallypoint/internal/cloud"
)

// paramsClient is the slice of the cloud directory client the SSM backend
// needs.
type paramsClient interface {
	GetParameter(ctx context.Context, name string) (string, time.Time, error)
	CreateParameter(ctx context.Context, name, value string) error
}

// AWSParams is the default backend: SSM Parameter Store via the cloud
// directory client. Creation is conditional on the service side
// (Overwrite=false); reads are eventually consistent, which the coordinator
// absorbs with bounded polling.
type AWSParams struct {
	client paramsClient
}

func NewAWSParams(client *cloud.Client) *AWSParams {
	return &AWSParams{client: client}
}

func (s *AWSParams) Get(ctx context.Context, key string) (string, time.Time, error) {
	value, createdAt, err := s.client.GetParameter(ctx, key)
	if err != nil {
		if errors.Is(err, cloud.ErrParameterNotFound) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, err
	}
	return value, createdAt, nil
}

func (s *AWSParams) CreateIfAbsent(ctx context.Context, key, value string) error {
	if err := s.client.CreateParameter(ctx, key, value); err != nil {
		if errors.Is(err, cloud.ErrParameterExists) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}
