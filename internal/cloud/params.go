package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// GetParameter reads one encrypted parameter by full path. Absence is
// ErrParameterNotFound; anything else is transient from the caller's point
// of view and left to the retry budget.
func (c *Client) GetParameter(ctx context.Context, name string) (string, time.Time, error) {
	out, err := c.params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", time.Time{}, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
		}
		return "", time.Time{}, fmt.Errorf("get parameter %s: %w", name, err)
	}
	var created time.Time
	if out.Parameter.LastModifiedDate != nil {
		created = *out.Parameter.LastModifiedDate
	}
	return aws.ToString(out.Parameter.Value), created, nil
}

// CreateParameter writes an encrypted parameter with overwrite disabled, so
// the store's own conditional write decides the winner when two creators
// race. Losing the race surfaces as ErrParameterExists.
//
// Limitation: PutParameter with Overwrite=false is conditional on the write
// path, but parameter reads are eventually consistent. A reader may briefly
// observe absence after a successful create; callers absorb that with
// bounded polling rather than assuming linearizability.
func (c *Client) CreateParameter(ctx context.Context, name, value string) error {
	_, err := c.params.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(false),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("%w: %s", ErrParameterExists, name)
		}
		return fmt.Errorf("put parameter %s: %w", name, err)
	}
	return nil
}
